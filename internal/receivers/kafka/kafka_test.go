package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"sensorhub/internal/receivers/format"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs     []kafka.Message
	deadline bool
	err      error
	closes   int
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, w.deadline = ctx.Deadline()
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closes++
	return nil
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, Config{Brokers: []string{DefaultBroker}, Topic: DefaultTopic, Timeout: DefaultTimeout}, cfg)

	cfg, err = parseConfig(component.Options{"brokers": []any{"k1:9092", "k2:9092"}, "topic": "lab", "timeout": 500})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, 500*time.Millisecond, cfg.Timeout)

	_, err = parseConfig(component.Options{"brokers": 7, "topic": ""})
	assert.Error(t, err)
}

func TestUpdate(t *testing.T) {
	w := &fakeWriter{}
	r := NewWithWriter("bus", 0, w, nil)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := component.NewSensor("ADXL345", "acceleration", "m/s²", nil)
	s.Set(component.Vector(0, 0.5, 9.8), ts)
	require.NoError(t, r.Update(s))

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.True(t, w.deadline)
	assert.Equal(t, "ADXL345", string(m.Key))
	assert.Equal(t, ts, m.Time)
	assert.Equal(t, "acceleration", header(m, "quantity"))
	assert.Equal(t, "m/s²", header(m, "unit"))

	var msg format.Message
	require.NoError(t, json.Unmarshal(m.Value, &msg))
	assert.Equal(t, header(m, "id"), msg.ID)
	assert.Equal(t, component.Vector(0, 0.5, 9.8), msg.Value)
}

func TestUpdate_Error(t *testing.T) {
	w := &fakeWriter{err: kafka.UnknownTopicOrPartition}
	r := NewWithWriter("bus", time.Second, w, nil)

	s := component.NewSensor("S1", "count", "1", nil)
	s.Set(component.Scalar(1), time.Now())
	err := r.Update(s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, kafka.UnknownTopicOrPartition))
}

func TestClose(t *testing.T) {
	w := &fakeWriter{}
	r := NewWithWriter("bus", time.Second, w, nil)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, 1, w.closes)

	s := component.NewSensor("S1", "count", "1", nil)
	s.Set(component.Scalar(1), time.Now())
	require.NoError(t, r.Update(s))
	assert.Empty(t, w.msgs)
}

func TestNew(t *testing.T) {
	c, err := New(plugin.NewContext(nil, nil, nil), "bus", component.Options{"brokers": "localhost:9092"})
	require.NoError(t, err)
	r := c.(*Receiver)
	assert.Equal(t, "bus", r.Name())

	kw, ok := r.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, DefaultTopic, kw.Topic)
	require.NoError(t, r.Close())
}
