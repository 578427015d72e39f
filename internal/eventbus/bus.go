package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/densityaware/shockharness/internal/logging"
	"github.com/densityaware/shockharness/internal/pipeline"
)

// #region types
// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher streams tick records to a Kafka topic, keyed by rollout id so one
// rollout's records stay ordered within a partition.
type Publisher struct {
	w   messageWriter
	log *slog.Logger

	// All publishes every tick instead of only the notable ones.
	All bool
}

// #endregion types

// #region constructor
// NewPublisher builds a synchronous writer for topic on brokers.
func NewPublisher(brokers []string, topic string, log *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("eventbus: no brokers")
	}
	if topic == "" {
		return nil, fmt.Errorf("eventbus: empty topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return newPublisher(w, log), nil
}

func newPublisher(w messageWriter, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{w: w, log: log.With(slog.String("component", "event-bus"))}
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// #endregion constructor

// #region publish
// Publish writes one record.
func (p *Publisher) Publish(ctx context.Context, rec logging.TickRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal tick: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(rec.RolloutID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "step", Value: []byte(strconv.Itoa(rec.Step))},
			{Key: "status", Value: []byte(rec.Status)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s step %d: %w", rec.RolloutID, rec.Step, err)
	}
	p.log.Debug("tick published", "rollout", rec.RolloutID, "step", rec.Step, "status", rec.Status)
	return nil
}

// Record implements pipeline.Sink.
func (p *Publisher) Record(ctx context.Context, rollout string, res pipeline.TickResult) error {
	if !p.All && !logging.Notable(res) {
		return nil
	}
	return p.Publish(ctx, logging.NewTickRecord(rollout, res))
}

// #endregion publish
