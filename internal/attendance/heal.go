package attendance

import (
	"context"

	"schoolattend/internal/model"
	"schoolattend/internal/queue"
)

// RunHealer consumes consolidate messages from q until ctx ends or the
// channel closes. Malformed messages are logged and skipped.
func (s *Service) RunHealer(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("heal consumer started")
	for msg := range messages {
		if msg.Type != queue.TypeConsolidate {
			continue
		}
		s.heal(ctx, msg.Body)
	}
	s.logger.Info("heal consumer stopped")
	return nil
}

func (s *Service) heal(ctx context.Context, body []byte) {
	studentID, date, err := queue.ParseStudentDay(body)
	if err != nil {
		s.logger.Warn("skipping consolidate message", "body", string(body), "error", err)
		return
	}
	day, err := model.ParseDay(date)
	if err != nil {
		s.logger.Warn("skipping consolidate message", "body", string(body), "error", err)
		return
	}
	if _, err := s.Consolidate(ctx, studentID, day); err != nil {
		s.logger.Error("consolidate failed", "student_id", studentID, "date", date, "error", err)
	}
}
