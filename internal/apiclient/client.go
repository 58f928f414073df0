package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"schoolattend/internal/attendance"
	"schoolattend/internal/model"
	"schoolattend/internal/retry"
)

var (
	// ErrUnavailable wraps transport failures, 429 and 5xx responses.
	ErrUnavailable = errors.New("canonical store unavailable")
	// ErrUnauthorized is returned when the server rejects the device credentials.
	ErrUnauthorized = errors.New("device unauthorized")
)

// markPolicy is used for time-in and time-out. A retried mark whose first
// attempt was applied would come back as a rejection, so an unknown outcome
// is reported as ErrUnavailable and left to the offline buffer instead.
var markPolicy = retry.Policy{MaxAttempts: 1}

const (
	registerPath = "/v1/devices/register"
	refreshPath  = "/v1/devices/refresh"
)

// Client calls the canonical attendance API.
type Client struct {
	BaseURL       string
	HTTP          *http.Client
	HealthTimeout time.Duration
	BulkTimeout   time.Duration
	CallTimeout   time.Duration
	Retry         retry.Policy

	mu       sync.RWMutex
	token    string
	deviceID string
	refresh  string
}

// New creates a client with fixed per-call timeouts.
func New(baseURL string, healthTimeout, bulkTimeout time.Duration) *Client {
	if healthTimeout <= 0 {
		healthTimeout = 3 * time.Second
	}
	if bulkTimeout <= 0 {
		bulkTimeout = 30 * time.Second
	}
	return &Client{
		BaseURL:       baseURL,
		HTTP:          &http.Client{},
		HealthTimeout: healthTimeout,
		BulkTimeout:   bulkTimeout,
		CallTimeout:   10 * time.Second,
		Retry:         retry.Default,
	}
}

// SetToken sets the bearer token sent on authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Health checks if the API is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}
	return nil
}

// IsOnline reports whether scans should take the online path.
func (c *Client) IsOnline(ctx context.Context) bool {
	return c.Health(ctx) == nil
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RegisterDevice registers deviceID and stores the issued tokens. The device
// id is remembered so an expired session can be renewed without the caller.
func (c *Client) RegisterDevice(ctx context.Context, deviceID string) error {
	var out tokenPair
	if err := c.call(ctx, http.MethodPost, registerPath, c.CallTimeout, c.Retry, map[string]string{"device_id": deviceID}, &out); err != nil {
		return err
	}
	c.store(deviceID, out)
	return nil
}

func (c *Client) store(deviceID string, p tokenPair) {
	c.mu.Lock()
	c.deviceID = deviceID
	c.token = p.AccessToken
	c.refresh = p.RefreshToken
	c.mu.Unlock()
}

// renew trades the stored refresh token for a new pair, falling back to a
// fresh registration when the refresh token was already used or expired.
func (c *Client) renew(ctx context.Context) error {
	c.mu.RLock()
	deviceID, refresh := c.deviceID, c.refresh
	c.mu.RUnlock()
	if deviceID == "" {
		return fmt.Errorf("%w: device not registered", ErrUnauthorized)
	}

	if refresh != "" {
		var out tokenPair
		in := map[string]string{"device_id": deviceID, "refresh_token": refresh}
		err := c.call(ctx, http.MethodPost, refreshPath, c.CallTimeout, c.Retry, in, &out)
		if err == nil {
			c.store(deviceID, out)
			return nil
		}
		if errors.Is(err, ErrUnavailable) {
			return err
		}
	}
	return c.RegisterDevice(ctx, deviceID)
}

// GetActorContext resolves a teacher; it returns nil when the server does not know the id.
func (c *Client) GetActorContext(ctx context.Context, actorID string) (*model.ActorContext, error) {
	var out struct {
		Actor model.ActorContext `json:"actor"`
	}
	err := c.call(ctx, http.MethodGet, "/v1/actors/"+actorID, c.CallTimeout, c.Retry, nil, &out)
	if err != nil {
		if errors.Is(err, attendance.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out.Actor, nil
}

type markBody struct {
	StudentID string      `json:"studentId"`
	Date      model.Day   `json:"date"`
	Time      model.Clock `json:"time"`
	SubjectID string      `json:"subjectId,omitempty"`
}

// TimeIn records arrival on the server.
func (c *Client) TimeIn(ctx context.Context, studentID string, day model.Day, at model.Clock, subjectID string) (model.DailyRecord, error) {
	return c.mark(ctx, "/v1/attendance/time-in", markBody{StudentID: studentID, Date: day, Time: at, SubjectID: subjectID})
}

// TimeOut records departure on the server.
func (c *Client) TimeOut(ctx context.Context, studentID string, day model.Day, at model.Clock, subjectID string) (model.DailyRecord, error) {
	return c.mark(ctx, "/v1/attendance/time-out", markBody{StudentID: studentID, Date: day, Time: at, SubjectID: subjectID})
}

func (c *Client) mark(ctx context.Context, path string, body markBody) (model.DailyRecord, error) {
	var out struct {
		Record model.DailyRecord `json:"record"`
	}
	if err := c.call(ctx, http.MethodPost, path, c.CallTimeout, markPolicy, body, &out); err != nil {
		return model.DailyRecord{}, err
	}
	return out.Record, nil
}

// BulkSync submits consolidated offline records and returns the per-record outcome.
func (c *Client) BulkSync(ctx context.Context, teacherID string, records []model.SyncRecord) ([]model.SyncResult, error) {
	in := struct {
		TeacherID string             `json:"teacherId"`
		Records   []model.SyncRecord `json:"records"`
	}{TeacherID: teacherID, Records: records}
	var out struct {
		Results []model.SyncResult `json:"results"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/attendance/sync", c.BulkTimeout, c.Retry, in, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

type errorBody struct {
	Error string                   `json:"error"`
	Code  attendance.RejectionCode `json:"code"`
}

// call performs one JSON request under policy. A 401 on an authenticated
// path renews the device session once and repeats the request.
func (c *Client) call(ctx context.Context, method, path string, timeout time.Duration, policy retry.Policy, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return err
		}
	}
	err := c.send(ctx, method, path, timeout, policy, payload, out)
	if !errors.Is(err, ErrUnauthorized) || path == registerPath || path == refreshPath {
		return err
	}
	if rerr := c.renew(ctx); rerr != nil {
		return fmt.Errorf("renew device session: %w", rerr)
	}
	return c.send(ctx, method, path, timeout, policy, payload, out)
}

func (c *Client) send(ctx context.Context, method, path string, timeout time.Duration, policy retry.Policy, payload []byte, out any) error {
	return policy.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if tok := c.bearer(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			bodyBytes, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, string(bodyBytes))
		}
		if resp.StatusCode >= 300 {
			return retry.Permanent(decodeError(resp))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	})
}

func decodeError(resp *http.Response) error {
	var eb errorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	if eb.Code != "" {
		return &attendance.Rejection{Code: eb.Code, Message: eb.Error}
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return attendance.ErrNotFound
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, eb.Error)
	}
	if eb.Error == "" {
		eb.Error = resp.Status
	}
	return fmt.Errorf("api error %d: %s", resp.StatusCode, eb.Error)
}
