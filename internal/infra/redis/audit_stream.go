package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"course-progression-service/internal/audit"
)

// AuditStream appends audit events to a Redis stream capped at MaxLen
// entries (approximate trimming).
type AuditStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewAuditStream(client *redis.Client, stream string, maxLen int64) *AuditStream {
	if stream == "" {
		stream = "progress:audit"
	}
	return &AuditStream{client: client, stream: stream, maxLen: maxLen}
}

func (s *AuditStream) Write(ctx context.Context, ev audit.Event) error {
	fields, err := json.Marshal(ev.Fields)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"kind":    ev.Kind,
			"actor":   ev.ActorID,
			"student": ev.StudentID,
			"course":  ev.CourseID,
			"subject": ev.Subject,
			"fields":  string(fields),
			"at":      ev.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return s.client.XAdd(ctx, args).Err()
}
