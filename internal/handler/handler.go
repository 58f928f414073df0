package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"schoolattend/internal/attendance"
	"schoolattend/internal/auth"
	"schoolattend/internal/model"
	"schoolattend/internal/scan"
)

// Records lists canonical attendance rows.
type Records interface {
	ListRecords(ctx context.Context, f attendance.ListFilter) ([]model.DailyRecord, error)
}

// Devices persists registered scanners and their refresh tokens.
type Devices interface {
	UpsertDevice(ctx context.Context, deviceID string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
	ConsumeRefreshToken(ctx context.Context, deviceID, token string) error
}

// HealthFunc reports per-dependency health for /healthz.
type HealthFunc func(ctx context.Context) map[string]bool

// Tokens configures device token issuance.
type Tokens struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Handler struct {
	svc     *attendance.Service
	dir     attendance.Directory
	enroll  *attendance.EnrollmentValidator
	records Records
	devices Devices
	health  HealthFunc
	tokens  Tokens
	logger  *slog.Logger
}

func New(svc *attendance.Service, dir attendance.Directory, records Records, devices Devices, health HealthFunc, tokens Tokens, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:     svc,
		dir:     dir,
		enroll:  attendance.NewEnrollmentValidator(dir),
		records: records,
		devices: devices,
		health:  health,
		tokens:  tokens,
		logger:  logger,
	}
}

// Register mounts every route on r. Everything under /v1 except device
// registration needs a device token.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)
	r.POST("/v1/devices/register", h.RegisterDevice)
	r.POST("/v1/devices/refresh", h.RefreshDevice)

	v1 := r.Group("/v1", auth.DeviceAuth(h.tokens.SigningKey, h.tokens.Issuer))
	v1.GET("/actors/:teacherId", h.GetActor)
	v1.POST("/scans/validate", h.ValidateScan)
	v1.POST("/attendance/time-in", h.TimeIn)
	v1.POST("/attendance/time-out", h.TimeOut)
	v1.POST("/attendance/sync", h.Sync)
	v1.GET("/attendance", h.ListAttendance)
	v1.GET("/students/:studentId/qr", h.StudentQR)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	status := http.StatusOK
	if h.health != nil {
		for name, ok := range h.health(c.Request.Context()) {
			resp[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
				resp["status"] = "degraded"
			}
		}
	}
	c.JSON(status, resp)
}

// ---------- Devices ----------

func (h *Handler) RegisterDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := h.devices.UpsertDevice(ctx, req.DeviceID); err != nil {
		h.fail(c, err)
		return
	}
	h.issue(c, http.StatusCreated, req.DeviceID)
}

// RefreshDevice trades a live refresh token for a new pair. Each refresh token works once.
func (h *Handler) RefreshDevice(c *gin.Context) {
	var req struct {
		DeviceID     string `json:"device_id" binding:"required"`
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.ParseRefresh(req.RefreshToken, h.tokens.SigningKey, h.tokens.Issuer)
	if err != nil || claims.Subject != req.DeviceID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	if err := h.devices.ConsumeRefreshToken(c.Request.Context(), req.DeviceID, req.RefreshToken); err != nil {
		if !errors.Is(err, attendance.ErrNotFound) {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token revoked or unknown"})
		return
	}
	h.issue(c, http.StatusOK, req.DeviceID)
}

func (h *Handler) issue(c *gin.Context, status int, deviceID string) {
	tokens, err := auth.Issue(deviceID, auth.RoleDevice, h.tokens.Issuer, h.tokens.SigningKey, h.tokens.AccessTTL, h.tokens.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := h.devices.SaveRefreshToken(c.Request.Context(), deviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		h.logger.Warn("refresh token not stored", "device_id", deviceID, "error", err)
	}

	c.JSON(status, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// ---------- Actors & scans ----------

func (h *Handler) GetActor(c *gin.Context) {
	actor, err := h.dir.Actor(c.Request.Context(), c.Param("teacherId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if actor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "teacher not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actor": actor})
}

type validateRequest struct {
	Raw       string `json:"raw" binding:"required"`
	TeacherID string `json:"teacherId"`
	SubjectID string `json:"subjectId"`
}

// ValidateScan parses raw scan text and checks eligibility. With a subject the
// roster join decides; without one the identity is compared to the teacher's class.
func (h *Handler) ValidateScan(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	var actor *model.ActorContext
	if req.TeacherID != "" {
		a, err := h.dir.Actor(ctx, req.TeacherID)
		if err != nil {
			h.fail(c, err)
			return
		}
		actor = a
	}
	var parseActor model.ActorContext
	if actor != nil {
		parseActor = *actor
	}

	parsed, err := scan.Parse(req.Raw, parseActor)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"result": scan.Reject(model.ScannedIdentity{}, scan.ReasonInvalidFormat, "invalid QR code")})
		return
	}
	if req.SubjectID == "" || actor == nil {
		c.JSON(http.StatusOK, gin.H{"result": scan.Validate(parsed.Identity, actor), "format": parsed.Kind.String()})
		return
	}
	res, err := h.enroll.Validate(ctx, parsed.Identity, actor.TeacherID, req.SubjectID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "format": parsed.Kind.String()})
}

// ---------- Attendance ----------

type markRequest struct {
	StudentID string       `json:"studentId" binding:"required"`
	Date      model.Day    `json:"date"`
	Time      *model.Clock `json:"time"`
	SubjectID string       `json:"subjectId"`
}

func (h *Handler) bindMark(c *gin.Context) (attendance.MarkRequest, bool) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return attendance.MarkRequest{}, false
	}
	if req.Date.IsZero() || req.Time == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date and time are required"})
		return attendance.MarkRequest{}, false
	}
	return attendance.MarkRequest{StudentID: req.StudentID, Date: req.Date, Time: *req.Time, SubjectID: req.SubjectID}, true
}

func (h *Handler) TimeIn(c *gin.Context) {
	req, ok := h.bindMark(c)
	if !ok {
		return
	}
	rec, err := h.svc.TimeIn(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (h *Handler) TimeOut(c *gin.Context) {
	req, ok := h.bindMark(c)
	if !ok {
		return
	}
	rec, err := h.svc.TimeOut(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (h *Handler) Sync(c *gin.Context) {
	var req struct {
		TeacherID string             `json:"teacherId" binding:"required"`
		Records   []model.SyncRecord `json:"records"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("bulk sync", "teacher_id", req.TeacherID, "device_id", auth.DeviceID(c), "records", len(req.Records))
	c.JSON(http.StatusOK, gin.H{"results": h.svc.ApplySync(c.Request.Context(), req.TeacherID, req.Records)})
}

func (h *Handler) ListAttendance(c *gin.Context) {
	f := attendance.ListFilter{StudentID: c.Query("studentId"), Limit: 50}
	if v := c.Query("date"); v != "" {
		d, err := model.ParseDay(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		f.Date = d
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Offset = parsed
		}
	}
	rows, err := h.records.ListRecords(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	if rows == nil {
		rows = []model.DailyRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": rows})
}

// ---------- QR ----------

// StudentQR renders the student's pipe-delimited identity as a PNG QR code.
func (h *Handler) StudentQR(c *gin.Context) {
	st, err := h.dir.Student(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	size := 256
	if v := c.Query("size"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 64 && parsed <= 1024 {
			size = parsed
		}
	}
	png, err := qrcode.Encode(scan.Encode(*st), qrcode.Medium, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// fail maps domain errors onto HTTP responses.
func (h *Handler) fail(c *gin.Context, err error) {
	if rej, ok := attendance.AsRejection(err); ok {
		c.JSON(http.StatusConflict, gin.H{"error": rej.Message, "code": rej.Code})
		return
	}
	switch {
	case errors.Is(err, attendance.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
