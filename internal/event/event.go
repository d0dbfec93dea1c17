// Package event defines the wire and domain model for aggregator events:
// parsing, validation, and the (topic, event_id) fingerprint used for dedup.
package event

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is a single log record submitted to the aggregator.
type Event struct {
	Topic     string                 `json:"topic"`
	EventID   string                 `json:"event_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Source    string                 `json:"source"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Fingerprint is the (topic, event_id) pair the dedup store keys on.
type Fingerprint struct {
	Topic   string
	EventID string
}

// Fingerprint returns the dedup key for this event.
func (e Event) Fingerprint() Fingerprint {
	return Fingerprint{Topic: e.Topic, EventID: e.EventID}
}

// String renders the fingerprint as "topic/event_id", used in logs.
func (f Fingerprint) String() string {
	return f.Topic + "/" + f.EventID
}

// ApplyDefaults fills EventID and Timestamp when the caller omitted them,
// mirroring the source system's default_factory behavior for both fields.
func (e *Event) ApplyDefaults() {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}

	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	if e.Payload == nil {
		e.Payload = map[string]interface{}{}
	}
}

// MarshalPayload serializes the payload to JSON for storage in a JSONB column.
func (e Event) MarshalPayload() ([]byte, error) {
	if e.Payload == nil {
		return []byte("{}"), nil
	}

	return json.Marshal(e.Payload)
}

// PublishRequest is the body accepted by POST /publish and POST /events.
// Events may be a single object or an array; UnmarshalJSON normalizes both.
type PublishRequest struct {
	Events []Event
}

// UnmarshalJSON accepts either {"events": {...}} or {"events": [...]}.
func (p *PublishRequest) UnmarshalJSON(data []byte) error {
	var wrapper struct {
		Events json.RawMessage `json:"events"`
	}

	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}

	if trimmed := bytes.TrimSpace(wrapper.Events); len(trimmed) > 0 && trimmed[0] == '{' {
		var single Event
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return err
		}

		p.Events = []Event{single}

		return nil
	}

	var many []Event
	if err := json.Unmarshal(wrapper.Events, &many); err != nil {
		return err
	}

	p.Events = many

	return nil
}
