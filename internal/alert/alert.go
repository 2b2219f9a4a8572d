// Package alert pages operators about payments that need manual
// reconciliation.
package alert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Reconciliation describes a completed payment whose access grant failed.
type Reconciliation struct {
	SettlementID string    `json:"settlement_id"`
	LearnerID    string    `json:"learner_id"`
	CourseID     string    `json:"course_id"`
	NetAmount    int64     `json:"net_amount"`
	Currency     string    `json:"currency"`
	Attempts     int       `json:"attempts"`
	Cause        string    `json:"cause"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type Alerter interface {
	Reconcile(ctx context.Context, r Reconciliation) error
}

// messageWriter is the part of *kafka.Writer we use.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaAlerter publishes alerts keyed by settlement id.
type KafkaAlerter struct {
	writer messageWriter
	log    zerolog.Logger
}

func NewKafkaAlerter(brokers []string, topic string, log zerolog.Logger) *KafkaAlerter {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}
	return &KafkaAlerter{writer: w, log: log}
}

func (a *KafkaAlerter) Reconcile(ctx context.Context, r Reconciliation) error {
	body, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "encode reconciliation alert")
	}
	msg := kafka.Message{
		Key:   []byte(r.SettlementID),
		Value: body,
		Time:  r.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte("payment.reconcile")},
		},
	}
	if err := a.writer.WriteMessages(ctx, msg); err != nil {
		a.log.Error().Err(err).Str("settlement", r.SettlementID).Msg("alert publish failed")
		return errors.Wrap(err, "publish reconciliation alert")
	}
	return nil
}

func (a *KafkaAlerter) Close() error {
	return a.writer.Close()
}

// LogAlerter is used when no broker is configured.
type LogAlerter struct {
	log zerolog.Logger
}

func NewLogAlerter(log zerolog.Logger) *LogAlerter {
	return &LogAlerter{log: log}
}

func (a *LogAlerter) Reconcile(_ context.Context, r Reconciliation) error {
	a.log.Error().
		Str("settlement", r.SettlementID).
		Str("learner", r.LearnerID).
		Str("course", r.CourseID).
		Int64("net_amount", r.NetAmount).
		Str("currency", r.Currency).
		Int("attempts", r.Attempts).
		Str("cause", r.Cause).
		Msg("RECONCILIATION REQUIRED")
	return nil
}

var (
	_ Alerter = (*KafkaAlerter)(nil)
	_ Alerter = (*LogAlerter)(nil)
)
