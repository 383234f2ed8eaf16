// README: Domain events published after trip and ledger commits.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"maat/internal/observability"
	"maat/internal/types"
)

const (
	TopicTripOpened     = "maat.trip.opened"
	TopicTripCompleted  = "maat.trip.completed"
	TopicTripRefunded   = "maat.trip.refunded"
	TopicLedgerCredited = "maat.ledger.credited"
)

type TripOpened struct {
	TripID         types.ID  `json:"trip_id"`
	RiderID        types.ID  `json:"rider_id"`
	CardUID        string    `json:"card_uid"`
	StationID      types.ID  `json:"station_id"`
	BalanceAtEntry int64     `json:"balance_at_entry"`
	At             time.Time `json:"at"`
}

type TripCompleted struct {
	TripID          types.ID  `json:"trip_id"`
	RiderID         types.ID  `json:"rider_id"`
	EntryStationID  types.ID  `json:"entry_station_id"`
	ExitStationID   types.ID  `json:"exit_station_id"`
	Fare            int64     `json:"fare"`
	Tier            string    `json:"tier"`
	NewBalance      int64     `json:"new_balance"`
	DurationMinutes int64     `json:"duration_minutes"`
	At              time.Time `json:"at"`
}

type TripRefunded struct {
	TripID     types.ID  `json:"trip_id"`
	RiderID    types.ID  `json:"rider_id"`
	Amount     int64     `json:"amount"`
	NewBalance int64     `json:"new_balance"`
	Actor      string    `json:"actor"`
	At         time.Time `json:"at"`
}

type LedgerCredited struct {
	EntryID      types.ID  `json:"entry_id"`
	RiderID      types.ID  `json:"rider_id"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Reason       string    `json:"reason"`
	At           time.Time `json:"at"`
}

// Publisher delivers an event keyed by rider so per-rider order is kept within a partition.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	msg, err := message(topic, key, payload)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func message(topic, key string, payload any) (kafka.Message, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s event: %w", topic, err)
	}
	return kafka.Message{Topic: topic, Key: []byte(key), Value: b}, nil
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }

// Emit publishes and only logs failures: events follow a committed write and must not undo it.
func Emit(ctx context.Context, p Publisher, log *slog.Logger, topic, key string, payload any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, topic, key, payload); err != nil {
		observability.EventPublishFailures.WithLabelValues(topic).Inc()
		if log != nil {
			log.Warn("publish event", slog.String("topic", topic), slog.String("key", key), slog.Any("err", err))
		}
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
	Err    error
}

type Recorded struct {
	Topic   string
	Key     string
	Payload any
}

func (r *Recorder) Publish(_ context.Context, topic, key string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Events = append(r.Events, Recorded{Topic: topic, Key: key, Payload: payload})
	return nil
}

func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Topic)
	}
	return out
}
