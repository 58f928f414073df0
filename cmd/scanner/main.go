package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"schoolattend/internal/apiclient"
	"schoolattend/internal/config"
	"schoolattend/internal/device"
	"schoolattend/internal/model"
	"schoolattend/internal/offline"
	"schoolattend/internal/session"
	"schoolattend/internal/syncer"
)

// Scanner reads decoded QR text from stdin, one scan per line:
//
//	in <raw>    record a time-in (also the default when no verb is given)
//	out <raw>   record a time-out
//	sync        push buffered scans now
//	status      show buffer counts
func main() {
	cfg := config.Load()
	logger := cfg.Logger()
	slog.SetDefault(logger)

	if cfg.DeviceID == "" || cfg.TeacherID == "" {
		logger.Error("DEVICE_ID and TEACHER_ID are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdin, os.Stdout); err != nil {
		logger.Error("scanner stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.App, logger *slog.Logger, in io.Reader, out io.Writer) error {
	buf, err := offline.Open(ctx, cfg.OfflineDBPath)
	if err != nil {
		return err
	}
	defer buf.Close()

	client := apiclient.New(cfg.APIBaseURL, cfg.HealthTimeout, cfg.BulkTimeout)
	sessions := session.NewManager(client)
	if err := connect(ctx, cfg, client, sessions, logger); err != nil {
		return err
	}

	rec := syncer.New(buf, client, time.Local, logger)
	scanner := device.NewScanner(device.Config{
		DeviceID:  cfg.DeviceID,
		SubjectID: cfg.SubjectID,
		Location:  time.Local,
	}, sessions, client, buf, rec, logger)
	go scanner.Watch(ctx, cfg.SyncInterval)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			handle(ctx, scanner, buf, strings.TrimSpace(line), out)
		}
	}
}

// connect registers the device and opens the teacher session, retrying until
// the API answers. A session needs the teacher's class, which only the API knows.
func connect(ctx context.Context, cfg config.App, client *apiclient.Client, sessions *session.Manager, logger *slog.Logger) error {
	t := time.NewTicker(cfg.SyncInterval)
	defer t.Stop()
	for {
		err := client.RegisterDevice(ctx, cfg.DeviceID)
		if err == nil {
			var sess session.Session
			if sess, err = sessions.Login(ctx, cfg.TeacherID); err == nil {
				logger.Info("session started", "teacher_id", sess.Actor.TeacherID, "section", sess.Actor.Section)
				return nil
			}
		}
		if !errors.Is(err, apiclient.ErrUnavailable) {
			return err
		}
		logger.Warn("api not reachable, retrying login", "error", err, "in", cfg.SyncInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func handle(ctx context.Context, s *device.Scanner, buf *offline.Buffer, line string, out io.Writer) {
	if line == "" {
		return
	}
	verb, rest, _ := strings.Cut(line, " ")
	typ := model.TimeIn
	switch strings.ToLower(verb) {
	case "sync":
		sum := s.SyncOfflineData(ctx)
		fmt.Fprintf(out, "synced %d student-day(s)", sum.SyncedCount)
		for _, e := range sum.Errors {
			fmt.Fprintf(out, "\n  error: %s", e)
		}
		fmt.Fprintln(out)
		return
	case "status":
		total, pending, err := buf.Counts(ctx)
		if err != nil {
			fmt.Fprintf(out, "buffer unreadable: %v\n", err)
			return
		}
		fmt.Fprintf(out, "buffered scans: %d total, %d pending\n", total, pending)
		return
	case "in":
		line = rest
	case "out":
		typ, line = model.TimeOut, rest
	}

	res := s.ValidateScan(strings.TrimSpace(line))
	if !res.IsValid {
		fmt.Fprintf(out, "REJECTED [%s] %s\n", res.Reason, res.Message)
		return
	}
	r := s.RecordOrBuffer(ctx, res.Identity, typ)
	switch {
	case !r.OK:
		fmt.Fprintf(out, "FAILED %s\n", r.Message)
	case r.Offline:
		fmt.Fprintf(out, "OFFLINE %s\n", r.Message)
	default:
		fmt.Fprintf(out, "OK %s\n", r.Message)
	}
}
