package component

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingReceiver struct {
	name string
	err  error
	boom bool

	mu      sync.Mutex
	updates []Reading
	closed  bool
}

func (r *countingReceiver) Name() string { return r.name }

func (r *countingReceiver) Update(s *Sensor) error {
	if r.boom {
		panic("receiver exploded")
	}
	r.mu.Lock()
	r.updates = append(r.updates, s.Reading())
	r.mu.Unlock()
	return r.err
}

func (r *countingReceiver) Close() error {
	r.closed = true
	return nil
}

func (r *countingReceiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func TestSensor_SubscribeNotifyDeliversOnce(t *testing.T) {
	s := NewSensor("BMP180T", "temperature", "°C", zap.NewNop())
	r := &countingReceiver{name: "console"}

	s.Subscribe(r)
	s.Set(Scalar(21.5), time.Unix(100, 0))
	require.NoError(t, s.NotifyAll())

	assert.Equal(t, 1, r.count())
	assert.Equal(t, 21.5, r.updates[0].Value.Float())
	assert.Equal(t, time.Unix(100, 0), r.updates[0].Timestamp)
}

func TestSensor_DoubleSubscribeDeliversOnce(t *testing.T) {
	s := NewSensor("BMP180P", "pressure", "hPa", nil)
	r := &countingReceiver{name: "console"}

	s.Subscribe(r)
	s.Subscribe(r)
	assert.Equal(t, 1, s.Subscribers())

	require.NoError(t, s.NotifyAll())
	assert.Equal(t, 1, r.count())
}

func TestSensor_UnsubscribeAllStopsDelivery(t *testing.T) {
	s := NewSensor("ADXL345", "acceleration", "m/s²", nil)
	a := &countingReceiver{name: "a"}
	b := &countingReceiver{name: "b"}
	s.Subscribe(a)
	s.Subscribe(b)

	s.UnsubscribeAll()
	require.NoError(t, s.NotifyAll())

	assert.Zero(t, a.count())
	assert.Zero(t, b.count())
	assert.Zero(t, s.Subscribers())
}

func TestSensor_Unsubscribe(t *testing.T) {
	s := NewSensor("t", "temperature", "°C", nil)
	a := &countingReceiver{name: "a"}
	b := &countingReceiver{name: "b"}
	s.Subscribe(a)
	s.Subscribe(b)

	s.Unsubscribe(a)
	s.Unsubscribe(&countingReceiver{name: "stranger"})
	require.NoError(t, s.NotifyAll())

	assert.False(t, s.IsSubscribed(a))
	assert.True(t, s.IsSubscribed(b))
	assert.Zero(t, a.count())
	assert.Equal(t, 1, b.count())
}

func TestSensor_FailingReceiverIsIsolated(t *testing.T) {
	tests := []struct {
		name   string
		faulty *countingReceiver
	}{
		{name: "error", faulty: &countingReceiver{name: "faulty", err: errors.New("disk full")}},
		{name: "panic", faulty: &countingReceiver{name: "faulty", boom: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSensor("t", "temperature", "°C", zap.NewNop())
			healthy := &countingReceiver{name: "healthy"}
			s.Subscribe(tt.faulty)
			s.Subscribe(healthy)

			var hookCalls, hookFailures int
			s.SetNotifyHook(func(_ *Sensor, _ Receiver, err error) {
				hookCalls++
				if err != nil {
					hookFailures++
				}
			})

			err := s.NotifyAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "faulty")
			assert.Equal(t, 1, healthy.count())
			assert.Equal(t, 2, hookCalls)
			assert.Equal(t, 1, hookFailures)

			// the sensor stays usable after a failed pass
			require.Error(t, s.NotifyAll())
			assert.Equal(t, 2, healthy.count())
		})
	}
}

func TestSensor_ReceiverErrorIsWrapped(t *testing.T) {
	sentinel := errors.New("broker down")
	s := NewSensor("t", "temperature", "°C", nil)
	s.Subscribe(&countingReceiver{name: "mqtt", err: sentinel})

	err := s.NotifyAll()
	assert.ErrorIs(t, err, sentinel)
}

func TestSensor_ConcurrentSubscribeAndNotify(t *testing.T) {
	s := NewSensor("t", "temperature", "°C", nil)
	receivers := make([]*countingReceiver, 20)
	for i := range receivers {
		receivers[i] = &countingReceiver{name: "r"}
	}

	var wg sync.WaitGroup
	for _, r := range receivers {
		wg.Add(1)
		go func(r *countingReceiver) {
			defer wg.Done()
			s.Subscribe(r)
		}(r)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = s.NotifyAll()
		}
	}()
	wg.Wait()

	assert.Equal(t, len(receivers), s.Subscribers())

	require.NoError(t, s.NotifyAll())
	for _, r := range receivers {
		assert.GreaterOrEqual(t, r.count(), 1)
	}
}

func TestSensor_ReadingDefaults(t *testing.T) {
	s := NewSensor("t", "temperature", "°C", nil)
	assert.True(t, s.Value().IsZero())
	assert.True(t, s.Timestamp().IsZero())
	assert.Equal(t, "t", s.Name())
	assert.Equal(t, "temperature", s.Quantity())
	assert.Equal(t, "°C", s.Unit())
}
