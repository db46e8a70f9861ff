package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func sampleEvent() AlertEvent {
	return AlertEvent{
		AnomalyID:      "a1",
		PropertyID:     "p1",
		ReadingID:      "r1",
		UtilityType:    "Water",
		Period:         "2024-06",
		Severity:       "high",
		Message:        "High Water usage",
		ThresholdValue: 7500,
		ActualValue:    12500,
		BaselineValue:  5000,
		DetectedAt:     time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_WritesKeyedJSON(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	p := &KafkaPublisher{w: w, topic: "usage.alerts"}

	if err := p.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got, want := len(w.msgs), 1; got != want {
		t.Fatalf("len(msgs)=%d want %d", got, want)
	}
	msg := w.msgs[0]
	if got, want := string(msg.Key), "p1"; got != want {
		t.Fatalf("key=%q want %q", got, want)
	}

	var decoded AlertEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if got, want := decoded.Severity, "high"; got != want {
		t.Fatalf("severity=%q want %q", got, want)
	}
	if got, want := decoded.ActualValue, 12500.0; got != want {
		t.Fatalf("actual=%v want %v", got, want)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("Close: err=%v closed=%v", err, w.closed)
	}
}

func TestKafkaPublisher_WrapsWriteError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	p := &KafkaPublisher{w: &recordingWriter{err: boom}, topic: "usage.alerts"}

	err := p.Publish(context.Background(), sampleEvent())
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want wrapped %v", err, boom)
	}
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestNewKafkaPublisher_BoundsWrites(t *testing.T) {
	t.Parallel()

	p := NewKafkaPublisher([]string{"localhost:9092"}, "alerts")
	w, ok := p.w.(*kafka.Writer)
	if !ok {
		t.Fatalf("writer type %T", p.w)
	}
	if got, want := w.WriteTimeout, writeTimeout; got != want {
		t.Fatalf("WriteTimeout=%v want %v", got, want)
	}
	if got, want := w.MaxAttempts, writeAttempts; got != want {
		t.Fatalf("MaxAttempts=%d want %d", got, want)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
