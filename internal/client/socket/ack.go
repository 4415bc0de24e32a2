package socket

import (
	"encoding/json"
	"fmt"
)

// Ack is the server's answer to a request: {success:true, ...data} or
// {success:false, error}.
type Ack struct {
	Event   string
	Success bool
	Message string
	raw     json.RawMessage
}

// AckError reports a {success:false} ack.
type AckError struct {
	Event   string
	Message string
}

func (e *AckError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed", e.Event)
	}
	return fmt.Sprintf("%s failed: %s", e.Event, e.Message)
}

// ParseAck builds an Ack from a raw ack payload.
func ParseAck(event string, raw json.RawMessage) (Ack, error) {
	var head struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &head); err != nil {
			return Ack{}, err
		}
	}
	return Ack{Event: event, Success: head.Success, Message: head.Error, raw: raw}, nil
}

// Decode unmarshals the flattened ack data into v.
func (a Ack) Decode(v any) error {
	if len(a.raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(a.raw, v); err != nil {
		return fmt.Errorf("decode %s ack: %w", a.Event, err)
	}
	return nil
}

func (a Ack) Err() error {
	if a.Success {
		return nil
	}
	return &AckError{Event: a.Event, Message: a.Message}
}
