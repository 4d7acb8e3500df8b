package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Event is a single domain event consumed from the broker.
// Immutable once constructed.
type Event struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	ContextKey string         `json:"context_key"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data"`
}

// NewEvent builds an Event, applying defaults: an empty context key falls
// back to the event type, and a zero timestamp falls back to ingestion time.
func NewEvent(eventID, eventType, contextKey string, timestamp time.Time, data map[string]any) Event {
	if contextKey == "" {
		contextKey = eventType
	}
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		EventID:    eventID,
		EventType:  eventType,
		ContextKey: contextKey,
		Timestamp:  timestamp.UTC(),
		Data:       data,
	}
}

// ContextEntry is the stored form of an event inside a context window.
// The context key is implied by the window it lives in.
type ContextEntry struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// ToContextEntry converts the event to its context window representation.
func (e Event) ToContextEntry() ContextEntry {
	return ContextEntry{
		EventID:   e.EventID,
		EventType: e.EventType,
		Timestamp: e.Timestamp,
		Data:      e.Data,
	}
}

// EventFromContextEntry reconstructs an event from a stored context entry.
func EventFromContextEntry(entry ContextEntry, contextKey string) Event {
	return Event{
		EventID:    entry.EventID,
		EventType:  entry.EventType,
		ContextKey: contextKey,
		Timestamp:  entry.Timestamp,
		Data:       entry.Data,
	}
}

// ParseTimestamp parses a producer-supplied timestamp, accepting either
// epoch seconds or RFC 3339. Naive values are assumed UTC.
func ParseTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("no timestamp")
	case float64:
		sec, frac := int64(v), v-float64(int64(v))
		return time.Unix(sec, int64(frac*float64(time.Second))).UTC(), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC(), nil
		}
		// RFC 3339 without zone: assume UTC.
		if t, err := time.ParseInLocation("2006-01-02T15:04:05", v, time.UTC); err == nil {
			return t, nil
		}
		if sec, err := strconv.ParseFloat(v, 64); err == nil {
			return ParseTimestamp(sec)
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
	default:
		return time.Time{}, fmt.Errorf("unrecognized timestamp type %T", raw)
	}
}

// MarshalEntry serializes a context entry for storage.
func MarshalEntry(entry ContextEntry) (string, error) {
	b, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal context entry: %w", err)
	}
	return string(b), nil
}

// UnmarshalEntry deserializes a stored context entry.
func UnmarshalEntry(raw string) (ContextEntry, error) {
	var entry ContextEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return ContextEntry{}, fmt.Errorf("unmarshal context entry: %w", err)
	}
	return entry, nil
}
