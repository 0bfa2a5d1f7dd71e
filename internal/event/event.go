// Package event holds the event summary record that is indexed, together with
// the request and result shapes used to search for it.
package event

import (
	"fmt"
	"strings"
)

// Severity of an event occurrence.
type Severity int

const (
	SeverityClear Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = []string{"CLEAR", "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("SEVERITY(%d)", int(s))
	}
	return severityNames[s]
}

// Status of an event summary.
type Status int

const (
	StatusNew Status = iota
	StatusAcknowledged
	StatusSuppressed
	StatusClosed
	StatusCleared
	StatusDropped
	StatusAged
)

var statusNames = []string{"NEW", "ACKNOWLEDGED", "SUPPRESSED", "CLOSED", "CLEARED", "DROPPED", "AGED"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
	return statusNames[s]
}

// ParseSeverity accepts a name (case-insensitive) or its number.
func ParseSeverity(s string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(n, s) {
			return Severity(i), nil
		}
	}
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err == nil && v >= 0 && v < len(severityNames) {
		return Severity(v), nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// ParseStatus accepts a name (case-insensitive) or its number.
func ParseStatus(s string) (Status, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, s) {
			return Status(i), nil
		}
	}
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err == nil && v >= 0 && v < len(statusNames) {
		return Status(v), nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// Actor identifies the element (and optional sub-element) an event is about.
type Actor struct {
	ElementUUID          string `json:"element_uuid,omitempty"`
	ElementIdentifier    string `json:"element_identifier,omitempty"`
	ElementTitle         string `json:"element_title,omitempty"`
	ElementSubUUID       string `json:"element_sub_uuid,omitempty"`
	ElementSubIdentifier string `json:"element_sub_identifier,omitempty"`
	ElementSubTitle      string `json:"element_sub_title,omitempty"`
}

// Tag attaches organizer uuids of one type (device class, location, ...) to an event.
type Tag struct {
	Type  string   `json:"type"`
	UUIDs []string `json:"uuids"`
}

// Detail is a named, multi-valued attribute.
type Detail struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Summary is the de-duplicated view of an event. Times are epoch milliseconds.
type Summary struct {
	UUID             string   `json:"uuid"`
	Status           Status   `json:"status"`
	Count            int      `json:"count"`
	FirstSeen        int64    `json:"first_seen_time"`
	LastSeen         int64    `json:"last_seen_time"`
	StatusChange     int64    `json:"status_change_time"`
	UpdateTime       int64    `json:"update_time"`
	CurrentUserName  string   `json:"current_user_name,omitempty"`
	ClearedByUUID    string   `json:"cleared_by_event_uuid,omitempty"`
	Fingerprint      string   `json:"fingerprint,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	Message          string   `json:"message,omitempty"`
	EventClass       string   `json:"event_class,omitempty"`
	EventClassKey    string   `json:"event_class_key,omitempty"`
	EventKey         string   `json:"event_key,omitempty"`
	EventGroup       string   `json:"event_group,omitempty"`
	Agent            string   `json:"agent,omitempty"`
	Monitor          string   `json:"monitor,omitempty"`
	Severity         Severity `json:"severity"`
	Actor            Actor    `json:"actor"`
	Tags             []Tag    `json:"tags,omitempty"`
	Details          []Detail `json:"details,omitempty"`
}

// Key returns the canonical-store lookup key of s.
func (s *Summary) Key() Key {
	return Key{UUID: s.UUID, LastSeen: s.LastSeen}
}

// TagUUIDs returns every uuid the event is tagged with, including the element
// and sub-element uuids, without duplicates.
func (s *Summary) TagUUIDs() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, t := range s.Tags {
		for _, u := range t.UUIDs {
			add(u)
		}
	}
	add(s.Actor.ElementUUID)
	add(s.Actor.ElementSubUUID)
	return out
}

// DetailValues returns the values of detail name, or nil.
func (s *Summary) DetailValues(name string) []string {
	for _, d := range s.Details {
		if d.Name == name {
			return d.Values
		}
	}
	return nil
}

// Key identifies one revision of an event summary.
type Key struct {
	UUID     string `json:"uuid"`
	LastSeen int64  `json:"last_seen"`
}

// Watermark is the rebuild cursor: events are listed in (LastSeen, UUID) order.
type Watermark struct {
	LastSeen int64  `json:"last_seen"`
	UUID     string `json:"uuid"`
}

// IsZero reports whether w is the start of the stream.
func (w Watermark) IsZero() bool {
	return w.LastSeen == 0 && w.UUID == ""
}
