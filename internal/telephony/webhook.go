package telephony

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// StatusEvent is one asynchronous status callback from the provider.
// Callbacks may duplicate, arrive out of order, or never arrive at all;
// interpretation belongs to the ingestor, not this parser.
type StatusEvent struct {
	ProviderRef string
	EventType   string
	Status      string

	ConversationSeconds int
	RecordingURL        string
	StartTime           string
	EndTime             string

	Legs []Leg

	// CustomField echoes the metadata sent at connect time.
	CustomField string
}

// ParseStatusEvent reads a callback body, JSON or form-encoded, and returns
// the event plus the raw payload for durable storage. An unreadable body is
// the only parse failure; unknown fields are ignored.
func ParseStatusEvent(r *http.Request) (StatusEvent, string, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		return parseJSONEvent(r)
	}
	return parseFormEvent(r)
}

type jsonEvent struct {
	CallSid              string          `json:"CallSid"`
	EventType            string          `json:"EventType"`
	Status               string          `json:"Status"`
	ConversationDuration json.Number     `json:"ConversationDuration"`
	RecordingURL         string          `json:"RecordingUrl"`
	StartTime            string          `json:"StartTime"`
	EndTime              string          `json:"EndTime"`
	Legs                 json.RawMessage `json:"Legs"`
	CustomField          string          `json:"CustomField"`
}

func parseJSONEvent(r *http.Request) (StatusEvent, string, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return StatusEvent{}, "", fmt.Errorf("telephony: read callback body: %w", err)
	}

	var je jsonEvent
	if err := json.Unmarshal(raw, &je); err != nil {
		return StatusEvent{}, string(raw), fmt.Errorf("telephony: decode callback json: %w", err)
	}

	e := StatusEvent{
		ProviderRef:  strings.TrimSpace(je.CallSid),
		EventType:    strings.TrimSpace(je.EventType),
		Status:       strings.TrimSpace(je.Status),
		RecordingURL: strings.TrimSpace(je.RecordingURL),
		StartTime:    strings.TrimSpace(je.StartTime),
		EndTime:      strings.TrimSpace(je.EndTime),
		CustomField:  je.CustomField,
	}
	if je.ConversationDuration != "" {
		if n, err := je.ConversationDuration.Int64(); err == nil {
			e.ConversationSeconds = int(n)
		}
	}
	if len(je.Legs) > 0 {
		e.Legs = parseLegs(je.Legs)
	}
	return e, string(raw), nil
}

func parseFormEvent(r *http.Request) (StatusEvent, string, error) {
	if err := r.ParseForm(); err != nil {
		return StatusEvent{}, "", fmt.Errorf("telephony: parse callback form: %w", err)
	}

	e := StatusEvent{
		ProviderRef:  strings.TrimSpace(r.PostFormValue("CallSid")),
		EventType:    strings.TrimSpace(r.PostFormValue("EventType")),
		Status:       strings.TrimSpace(r.PostFormValue("Status")),
		RecordingURL: strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		StartTime:    strings.TrimSpace(r.PostFormValue("StartTime")),
		EndTime:      strings.TrimSpace(r.PostFormValue("EndTime")),
		CustomField:  r.PostFormValue("CustomField"),
	}
	if v := strings.TrimSpace(r.PostFormValue("ConversationDuration")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			e.ConversationSeconds = n
		}
	}
	// The provider sends legs as a JSON array inside the form field.
	if v := r.PostFormValue("Legs"); v != "" {
		e.Legs = parseLegs([]byte(v))
	}
	return e, r.PostForm.Encode(), nil
}

// parseLegs accepts either the provider's verbose leg objects or the
// simplified {status, duration_seconds} shape.
func parseLegs(raw []byte) []Leg {
	var verbose []struct {
		Status          string `json:"Status"`
		OnCallDuration  int    `json:"OnCallDuration"`
		StatusAlt       string `json:"status"`
		DurationSeconds int    `json:"duration_seconds"`
	}
	if err := json.Unmarshal(raw, &verbose); err != nil {
		return nil
	}
	var out []Leg
	for _, l := range verbose {
		leg := Leg{Status: l.Status, DurationSeconds: l.OnCallDuration}
		if leg.Status == "" {
			leg.Status = l.StatusAlt
		}
		if leg.DurationSeconds == 0 {
			leg.DurationSeconds = l.DurationSeconds
		}
		out = append(out, leg)
	}
	return out
}
