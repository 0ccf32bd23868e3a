package telephony

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestParseStatusEvent_JSON(t *testing.T) {
	body := `{
		"CallSid":"abc123",
		"EventType":"terminal",
		"Status":"completed",
		"ConversationDuration":125,
		"RecordingUrl":"https://rec.example.com/abc123.mp3",
		"Legs":[{"Status":"completed","OnCallDuration":130},{"Status":"completed","OnCallDuration":125}],
		"CustomField":"{\"session_id\":\"s1\"}"
	}`
	r := httptest.NewRequest("POST", "/webhooks/voice/status", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	e, raw, err := ParseStatusEvent(r)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if e.ProviderRef != "abc123" || e.Status != "completed" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.ConversationSeconds != 125 {
		t.Fatalf("expected 125s conversation, got %d", e.ConversationSeconds)
	}
	if len(e.Legs) != 2 || e.Legs[0].DurationSeconds != 130 {
		t.Fatalf("expected legs parsed, got %+v", e.Legs)
	}
	if !strings.Contains(raw, "abc123") {
		t.Fatalf("expected raw payload preserved")
	}
}

func TestParseStatusEvent_Form(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "abc123")
	form.Set("Status", "busy")
	form.Set("EventType", "terminal")
	form.Set("ConversationDuration", "0")
	form.Set("Legs", `[{"Status":"busy","OnCallDuration":0}]`)

	r := httptest.NewRequest("POST", "/webhooks/voice/status", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	e, raw, err := ParseStatusEvent(r)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if e.ProviderRef != "abc123" || e.Status != "busy" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if len(e.Legs) != 1 || e.Legs[0].Status != "busy" {
		t.Fatalf("expected leg parsed, got %+v", e.Legs)
	}
	if raw == "" {
		t.Fatalf("expected raw payload preserved")
	}
}

func TestParseStatusEvent_MissingRefIsNotAParseError(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhooks/voice/status", strings.NewReader(`{"Status":"completed"}`))
	r.Header.Set("Content-Type", "application/json")

	e, _, err := ParseStatusEvent(r)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if e.ProviderRef != "" {
		t.Fatalf("expected empty provider ref")
	}
}

func TestParseStatusEvent_BadJSON(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhooks/voice/status", strings.NewReader(`{nope`))
	r.Header.Set("Content-Type", "application/json")

	_, raw, err := ParseStatusEvent(r)
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if raw == "" {
		t.Fatalf("expected raw body returned for audit even on parse failure")
	}
}
