// Package model holds the wire and in-process data types shared by every
// pipeline stage: the ingress Request, the ban directives validators
// produce, and the envelope the validation service forwards to the
// emitter.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Body is the request payload, present or deliberately dropped upstream.
// It round-trips the tagged-union wire shape `{"Original":"..."}` or
// `"Skipped"`.
type Body struct {
	Original string
	Skipped  bool
}

var skippedJSON = []byte(`"Skipped"`)

func (b Body) MarshalJSON() ([]byte, error) {
	if b.Skipped {
		return skippedJSON, nil
	}
	return json.Marshal(struct {
		Original string `json:"Original"`
	}{b.Original})
}

func (b *Body) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, skippedJSON) {
		*b = Body{Skipped: true}
		return nil
	}
	var wrapped struct {
		Original string `json:"Original"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	*b = Body{Original: wrapped.Original}
	return nil
}

// String returns the body content, treating a Skipped body as empty;
// the cost-pattern and presence checks never distinguish the two.
func (b Body) String() string {
	if b.Skipped {
		return ""
	}
	return b.Original
}

// Headers is a case-insensitive header-name to value mapping, decoded
// from a plain JSON object.
type Headers map[string]string

// Get performs a case-insensitive lookup.
func (h Headers) Get(name string) (string, bool) {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Request is one observed HTTP request, as flattened from a bus message.
type Request struct {
	Timestamp time.Time
	RemoteIP  string
	Host      string
	Method    string
	Path      string
	Headers   Headers
	Body      Body
}

type requestWire struct {
	Timestamp string  `json:"timestamp"`
	RemoteIP  string  `json:"remote_ip"`
	Host      string  `json:"host"`
	Method    string  `json:"method"`
	Path      string  `json:"path"`
	Headers   Headers `json:"headers"`
	Body      Body    `json:"body"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestWire{
		Timestamp: r.Timestamp.Format(time.RFC3339),
		RemoteIP:  r.RemoteIP,
		Host:      r.Host,
		Method:    r.Method,
		Path:      r.Path,
		Headers:   r.Headers,
		Body:      r.Body,
	})
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var w requestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadTimestamp, err)
	}
	*r = Request{
		Timestamp: ts,
		RemoteIP:  w.RemoteIP,
		Host:      w.Host,
		Method:    w.Method,
		Path:      w.Path,
		Headers:   w.Headers,
		Body:      w.Body,
	}
	return nil
}

// BanTarget identifies who a ban applies to. At least one of IP or
// UserAgent is populated.
type BanTarget struct {
	IP        *string `json:"ip,omitempty"`
	UserAgent *string `json:"user_agent,omitempty"`
}

// BanRequest is the directive emitted to the firewall executor.
type BanRequest struct {
	Target     BanTarget `json:"target"`
	Reason     string    `json:"reason"`
	TTLSeconds uint32    `json:"ttl"`
}

// ValidatorBan is the internal pipeline envelope between the validation
// service and the emitter.
type ValidatorBan struct {
	Ban           BanRequest
	ValidatorName string
}
