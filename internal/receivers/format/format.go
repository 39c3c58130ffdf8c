// Package format renders sensor readings for receivers: the text line of
// the console and log file outputs and the JSON message of the broker
// outputs.
package format

import (
	"encoding/json"
	"fmt"
	"time"

	"sensorhub/pkg/component"

	"github.com/google/uuid"
)

// Line renders the current reading of s as
// "Sensor <name>, <quantity> [<unit>]: <value>".
func Line(s *component.Sensor) string {
	return fmt.Sprintf("Sensor %s, %s [%s]: %s", s.Name(), s.Quantity(), s.Unit(), s.Value())
}

// Message is the wire form of one reading.
type Message struct {
	ID        string          `json:"id"`
	Receiver  string          `json:"receiver"`
	Sensor    string          `json:"sensor"`
	Quantity  string          `json:"quantity"`
	Unit      string          `json:"unit"`
	Value     component.Value `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage snapshots the current reading of s under a fresh message ID.
func NewMessage(receiver string, s *component.Sensor) Message {
	r := s.Reading()
	return Message{
		ID:        uuid.NewString(),
		Receiver:  receiver,
		Sensor:    s.Name(),
		Quantity:  s.Quantity(),
		Unit:      s.Unit(),
		Value:     r.Value,
		Timestamp: r.Timestamp,
	}
}

// JSON encodes the message.
func (m Message) JSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reading of %s: %w", m.Sensor, err)
	}
	return data, nil
}
