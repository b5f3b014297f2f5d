// Package events publishes computed member snapshots to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"

	"github.com/makerspace/member-success/internal/model"
)

// EventSnapshotComputed is the event type of a published snapshot.
const EventSnapshotComputed = "member.snapshot.computed"

// Publisher emits snapshot events.
type Publisher interface {
	PublishSnapshot(ctx context.Context, snap model.Snapshot) error
	Close() error
}

// Event is the JSON payload written for each snapshot.
type Event struct {
	Type        string         `json:"type"`
	MemberID    int64          `json:"member_id"`
	PublishedAt time.Time      `json:"published_at"`
	Snapshot    model.Snapshot `json:"snapshot"`
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" mapstructure:"brokers"`
	Topic        string        `yaml:"topic" mapstructure:"topic"`
	RequiredAcks int           `yaml:"required_acks" mapstructure:"required_acks"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// Enabled reports whether enough is configured to publish.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && strings.TrimSpace(c.Topic) != ""
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes one message per snapshot, keyed by member id so that a
// member's events stay ordered within a partition.
type Kafka struct {
	writer kafkaMessageWriter
	now    func() time.Time
}

// NewKafka builds a publisher backed by a kafka-go writer.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, eris.New("events: at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, eris.New("events: topic is required")
	}
	acks := kafka.RequireOne
	if cfg.RequiredAcks != 0 {
		acks = kafka.RequiredAcks(cfg.RequiredAcks)
	}
	timeout := cfg.WriteTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           acks,
		WriteTimeout:           timeout,
		AllowAutoTopicCreation: false,
	}
	return newKafkaWithWriter(w), nil
}

func newKafkaWithWriter(w kafkaMessageWriter) *Kafka {
	return &Kafka{writer: w, now: time.Now}
}

func (k *Kafka) PublishSnapshot(ctx context.Context, snap model.Snapshot) error {
	payload, err := json.Marshal(Event{
		Type:        EventSnapshotComputed,
		MemberID:    snap.MemberID,
		PublishedAt: k.now().UTC(),
		Snapshot:    snap,
	})
	if err != nil {
		return eris.Wrap(err, "events: marshal snapshot")
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(snap.MemberID, 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventSnapshotComputed)},
			{Key: "snapshot_date", Value: []byte(snap.SnapshotDate)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return eris.Wrapf(err, "events: publish snapshot for member %d", snap.MemberID)
	}
	return nil
}

func (k *Kafka) Close() error {
	if err := k.writer.Close(); err != nil {
		return eris.Wrap(err, "events: close writer")
	}
	return nil
}

// Noop discards events.
type Noop struct{}

func (Noop) PublishSnapshot(context.Context, model.Snapshot) error { return nil }
func (Noop) Close() error                                        { return nil }
