// Package events fans session lifecycle changes out to subscribers
// (proctor dashboards, notification services) over Redis Pub/Sub and NATS.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
)

// Type names a lifecycle transition.
type Type string

const (
	SessionSubmitted Type = "session.submitted"
	SessionGraded    Type = "session.graded"
	SessionExpired   Type = "session.expired"
)

// Event is the wire payload of a lifecycle notification.
type Event struct {
	Type       Type      `json:"type"`
	SessionID  uuid.UUID `json:"session_id"`
	ExamID     uuid.UUID `json:"exam_id"`
	StudentID  int       `json:"student_id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Score      *float64  `json:"score,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// RedisPublisher publishes to the per-exam channel exam:{id}:events.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, config.CacheKey.ExamEventsChannel(e.ExamID.String()), payload).Err()
}

// NATSPublisher publishes to subject {prefix}.{event type}, e.g. exstem.sessions.session.graded.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "exstem.sessions"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

func (p *NATSPublisher) Subject(t Type) string {
	return fmt.Sprintf("%s.%s", p.prefix, t)
}

func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.Subject(e.Type), payload)
}

// Multi publishes to every sink and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
