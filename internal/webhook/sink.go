package webhook

import (
	"context"
	"encoding/json"
	"time"

	"qbo-bridge/internal/common/logging"
)

// Event is the normalized record handed to sinks for each changed entity.
type Event struct {
	RealmID     string    `json:"realmId"`
	Entity      string    `json:"entity"`
	EntityID    string    `json:"entityId"`
	Operation   string    `json:"operation"`
	LastUpdated time.Time `json:"lastUpdated"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// Sink receives verified webhook events for downstream processing.
type Sink interface {
	Deliver(ctx context.Context, events []Event) error
}

// Flatten expands a payload into one Event per changed entity.
func Flatten(p *Payload, receivedAt time.Time) []Event {
	var events []Event
	for _, note := range p.EventNotifications {
		for _, ent := range note.DataChangeEvent.Entities {
			events = append(events, Event{
				RealmID:     note.RealmID,
				Entity:      ent.Name,
				EntityID:    ent.ID,
				Operation:   ent.Operation,
				LastUpdated: ent.LastUpdated,
				ReceivedAt:  receivedAt,
			})
		}
	}
	return events
}

// LogSink writes each event to the structured log. It is the default sink
// when no message transport is configured.
type LogSink struct {
	logger logging.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(ctx context.Context, events []Event) error {
	for _, ev := range events {
		s.logger.Info("webhook event",
			logging.String("realm_id", ev.RealmID),
			logging.String("entity", ev.Entity),
			logging.String("entity_id", ev.EntityID),
			logging.String("operation", ev.Operation),
			logging.Time("last_updated", ev.LastUpdated))
	}
	return nil
}

// Publisher publishes a message to a named channel. The redis client
// satisfies this.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisSink publishes each event as JSON on a pub/sub channel so other
// dashboard services can react to entity changes.
type RedisSink struct {
	publisher Publisher
	channel   string
	logger    logging.Logger
}

// NewRedisSink creates a RedisSink over the given publisher and channel.
func NewRedisSink(publisher Publisher, channel string, logger logging.Logger) *RedisSink {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &RedisSink{
		publisher: publisher,
		channel:   channel,
		logger:    logger,
	}
}

func (s *RedisSink) Deliver(ctx context.Context, events []Event) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := s.publisher.Publish(ctx, s.channel, payload); err != nil {
			s.logger.Error("failed to publish webhook event", err,
				logging.String("channel", s.channel),
				logging.String("entity", ev.Entity))
			return err
		}
	}
	return nil
}
