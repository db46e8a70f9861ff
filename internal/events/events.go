// Package events publishes anomaly alerts to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// AlertEvent is emitted once per stored anomaly.
type AlertEvent struct {
	AnomalyID      string    `json:"anomaly_id"`
	PropertyID     string    `json:"property_id"`
	PropertyName   string    `json:"property_name,omitempty"`
	ReadingID      string    `json:"reading_id"`
	UtilityType    string    `json:"utility_type"`
	Period         string    `json:"period"`
	Severity       string    `json:"severity"`
	Message        string    `json:"message"`
	ThresholdValue float64   `json:"threshold_value"`
	ActualValue    float64   `json:"actual_value"`
	BaselineValue  float64   `json:"baseline_value"`
	DetectedAt     time.Time `json:"detected_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev AlertEvent) error
	Close() error
}

// NopPublisher drops every event. It is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, AlertEvent) error { return nil }
func (NopPublisher) Close() error                              { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes alerts as JSON to a single topic, keyed by property id so
// alerts for one property stay ordered within a partition.
type KafkaPublisher struct {
	w     messageWriter
	topic string
}

const (
	writeAttempts = 3
	writeTimeout  = 2 * time.Second
)

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			Async:                  false,
			AllowAutoTopicCreation: true,
			MaxAttempts:            writeAttempts,
			WriteTimeout:           writeTimeout,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev AlertEvent) error {
	msg, err := buildMessage(ev)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert to %q: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

func buildMessage(ev AlertEvent) (kafka.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode alert: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.PropertyID),
		Value: b,
		Time:  ev.DetectedAt,
		Headers: []kafka.Header{
			{Key: "severity", Value: []byte(ev.Severity)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	}, nil
}
