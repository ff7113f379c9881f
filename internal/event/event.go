// Package event defines the canonical Event record that every monitor
// emits and the spool ultimately persists (spec §3, §4.3). It maps 1:1 to
// the eventual database columns; there is no plaintext title, path, URL,
// or key character anywhere on the struct — only hashes and counts.
package event

import (
	"encoding/json"
	"fmt"
)

// SubjectType is the closed set of subject kinds an event can describe.
type SubjectType string

const (
	SubjectApp    SubjectType = "app"
	SubjectWindow SubjectType = "window"
	SubjectFile   SubjectType = "file"
	SubjectURL    SubjectType = "url"
	SubjectNone   SubjectType = "none"
)

func (s SubjectType) valid() bool {
	switch s {
	case SubjectApp, SubjectWindow, SubjectFile, SubjectURL, SubjectNone:
		return true
	}
	return false
}

// Event is the canonical record. Required fields have no `omitempty`;
// optional fields are pointers or omitempty so a round trip through
// ToMap/FromMap never invents a field that wasn't there.
type Event struct {
	ID          string      `json:"id"`
	TsUTC       int64       `json:"ts_utc"`
	Monitor     string      `json:"monitor"`
	Action      string      `json:"action"`
	SubjectType SubjectType `json:"subject_type"`
	SessionID   string      `json:"session_id"`

	SubjectID      string `json:"subject_id,omitempty"`
	BatchID        string `json:"batch_id,omitempty"`
	PID            *int   `json:"pid,omitempty"`
	ExeName        string `json:"exe_name,omitempty"`
	ExePathHash    string `json:"exe_path_hash,omitempty"`
	WindowTitleHash string `json:"window_title_hash,omitempty"`
	URLHash        string `json:"url_hash,omitempty"`
	FilePathHash   string `json:"file_path_hash,omitempty"`

	// AttrsJSON holds an already-minified JSON object. Once set via
	// WithAttrs it is frozen: nothing downstream re-serializes it, so the
	// outer spool writer never double-escapes it.
	AttrsJSON string `json:"attrs_json,omitempty"`
}

// New builds the required core of an event. Optional fields are attached
// with the With* helpers below before the event is published.
func New(id string, tsUTC int64, monitor, action string, subjectType SubjectType, sessionID string) (*Event, error) {
	if action == "" {
		return nil, fmt.Errorf("event: action is required")
	}
	if !subjectType.valid() {
		return nil, fmt.Errorf("event: invalid subject_type %q", subjectType)
	}
	return &Event{
		ID:          id,
		TsUTC:       tsUTC,
		Monitor:     monitor,
		Action:      action,
		SubjectType: subjectType,
		SessionID:   sessionID,
	}, nil
}

// WithAttrs serializes attrs to a minified JSON object exactly once and
// freezes the result onto AttrsJSON. Calling it twice is an error — attrs
// are meant to be set once at enrichment time, not mutated after.
func (e *Event) WithAttrs(attrs map[string]any) error {
	if e.AttrsJSON != "" {
		return fmt.Errorf("event: attrs_json already frozen")
	}
	if attrs == nil {
		return nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("event: marshal attrs: %w", err)
	}
	e.AttrsJSON = string(b)
	return nil
}

// ToMap converts the event to a generic map suitable for database
// insertion or NDJSON encoding. attrs_json is carried as a raw string, not
// re-parsed into a nested object.
func (e *Event) ToMap() map[string]any {
	m := map[string]any{
		"id":           e.ID,
		"ts_utc":       e.TsUTC,
		"monitor":      e.Monitor,
		"action":       e.Action,
		"subject_type": string(e.SubjectType),
		"session_id":   e.SessionID,
	}
	if e.SubjectID != "" {
		m["subject_id"] = e.SubjectID
	}
	if e.BatchID != "" {
		m["batch_id"] = e.BatchID
	}
	if e.PID != nil {
		m["pid"] = *e.PID
	}
	if e.ExeName != "" {
		m["exe_name"] = e.ExeName
	}
	if e.ExePathHash != "" {
		m["exe_path_hash"] = e.ExePathHash
	}
	if e.WindowTitleHash != "" {
		m["window_title_hash"] = e.WindowTitleHash
	}
	if e.URLHash != "" {
		m["url_hash"] = e.URLHash
	}
	if e.FilePathHash != "" {
		m["file_path_hash"] = e.FilePathHash
	}
	if e.AttrsJSON != "" {
		m["attrs_json"] = e.AttrsJSON
	}
	return m
}

// FromMap reconstructs an Event from a map produced by ToMap (or an
// equivalent decoded NDJSON line), rejecting any key that isn't part of
// the record.
func FromMap(m map[string]any) (*Event, error) {
	known := map[string]bool{
		"id": true, "ts_utc": true, "monitor": true, "action": true,
		"subject_type": true, "session_id": true, "subject_id": true,
		"batch_id": true, "pid": true, "exe_name": true, "exe_path_hash": true,
		"window_title_hash": true, "url_hash": true, "file_path_hash": true,
		"attrs_json": true,
	}
	for k := range m {
		if !known[k] {
			return nil, fmt.Errorf("event: unknown field %q", k)
		}
	}

	e := &Event{}
	var ok bool
	if e.ID, ok = m["id"].(string); !ok {
		return nil, fmt.Errorf("event: missing or invalid id")
	}
	ts, err := toInt64(m["ts_utc"])
	if err != nil {
		return nil, fmt.Errorf("event: ts_utc: %w", err)
	}
	e.TsUTC = ts
	if e.Monitor, ok = m["monitor"].(string); !ok {
		return nil, fmt.Errorf("event: missing or invalid monitor")
	}
	if e.Action, ok = m["action"].(string); !ok {
		return nil, fmt.Errorf("event: missing or invalid action")
	}
	st, ok := m["subject_type"].(string)
	if !ok {
		return nil, fmt.Errorf("event: missing or invalid subject_type")
	}
	e.SubjectType = SubjectType(st)
	if !e.SubjectType.valid() {
		return nil, fmt.Errorf("event: invalid subject_type %q", st)
	}
	if e.SessionID, ok = m["session_id"].(string); !ok {
		return nil, fmt.Errorf("event: missing or invalid session_id")
	}

	if v, present := m["subject_id"]; present {
		e.SubjectID, _ = v.(string)
	}
	if v, present := m["batch_id"]; present {
		e.BatchID, _ = v.(string)
	}
	if v, present := m["pid"]; present {
		pid, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("event: pid: %w", err)
		}
		p := int(pid)
		e.PID = &p
	}
	if v, present := m["exe_name"]; present {
		e.ExeName, _ = v.(string)
	}
	if v, present := m["exe_path_hash"]; present {
		e.ExePathHash, _ = v.(string)
	}
	if v, present := m["window_title_hash"]; present {
		e.WindowTitleHash, _ = v.(string)
	}
	if v, present := m["url_hash"]; present {
		e.URLHash, _ = v.(string)
	}
	if v, present := m["file_path_hash"]; present {
		e.FilePathHash, _ = v.(string)
	}
	if v, present := m["attrs_json"]; present {
		e.AttrsJSON, _ = v.(string)
	}

	return e, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
