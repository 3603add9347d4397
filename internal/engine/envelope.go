package engine

import (
	"encoding/json"
	"time"
)

// Envelope is the JSON structure transmitted to receivers. The signature is
// computed over the exact bytes produced by Encode, so the envelope must be
// serialized once and that serialization reused for both signing and sending.
type Envelope struct {
	Type       string          `json:"type"`
	Timestamp  string          `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
	ResourceID string          `json:"resource_id,omitempty"`
}

// NewEnvelope wraps an event payload for transmission.
func NewEnvelope(eventType string, payload json.RawMessage, resourceID string, at time.Time) Envelope {
	return Envelope{
		Type:       eventType,
		Timestamp:  at.UTC().Format(time.RFC3339),
		Data:       payload,
		ResourceID: resourceID,
	}
}

// Encode serializes the envelope to the wire representation.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
