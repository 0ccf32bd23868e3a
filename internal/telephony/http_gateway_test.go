package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"matchcall/internal/config"
)

func testGateway(baseURL string) *HTTPGateway {
	return NewHTTPGateway(config.GatewayConfig{
		BaseURL:        baseURL,
		APIKey:         "key",
		APIToken:       "token",
		CallerID:       "08030752400",
		CallbackURL:    "https://app.example.com/webhooks/voice/status",
		RequestTimeout: 2 * time.Second,
	})
}

func TestConnect_SendsFormAndParsesResponse(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/Calls/connect.json" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "token" {
			t.Errorf("expected basic auth key/token")
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = map[string]string{
			"From":        r.PostFormValue("From"),
			"To":          r.PostFormValue("To"),
			"CallerId":    r.PostFormValue("CallerId"),
			"CustomField": r.PostFormValue("CustomField"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Call":{"Sid":"abc123","Status":"in-progress"}}`))
	}))
	defer srv.Close()

	g := testGateway(srv.URL)
	resp, err := g.Connect(context.Background(), ConnectRequest{
		From:        "+911111111111",
		To:          "+922222222222",
		CallerID:    "08030752400",
		CallbackURL: "https://app.example.com/webhooks/voice/status",
		Metadata:    `{"session_id":"s1"}`,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if resp.ProviderRef != "abc123" {
		t.Fatalf("expected provider ref abc123, got %q", resp.ProviderRef)
	}
	if gotForm["From"] != "+911111111111" || gotForm["To"] != "+922222222222" {
		t.Fatalf("unexpected form numbers: %v", gotForm)
	}
	if gotForm["CustomField"] != `{"session_id":"s1"}` {
		t.Fatalf("expected metadata in custom field, got %q", gotForm["CustomField"])
	}
}

func TestConnect_Non2xxIsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"RestException":{"Message":"insufficient balance"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	g := testGateway(srv.URL)
	_, err := g.Connect(context.Background(), ConnectRequest{From: "a", To: "b"})

	var gerr *GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gerr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 captured, got %d", gerr.StatusCode)
	}
}

func TestConnect_MalformedBodyIsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	g := testGateway(srv.URL)
	_, err := g.Connect(context.Background(), ConnectRequest{From: "a", To: "b"})

	var gerr *GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
}

func TestCallStatus_ParsesDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Calls/abc123.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Call":{
			"Sid":"abc123",
			"Status":"completed",
			"Duration":210,
			"ConversationDuration":200,
			"RecordingUrl":"https://rec.example.com/abc123.mp3",
			"StartTime":"2025-06-01 12:00:00",
			"EndTime":"2025-06-01 12:03:30",
			"Legs":[{"Status":"completed","OnCallDuration":205},{"Status":"completed","OnCallDuration":200}]
		}}`))
	}))
	defer srv.Close()

	g := testGateway(srv.URL)
	d, err := g.CallStatus(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Status != "completed" || d.ConversationSeconds != 200 {
		t.Fatalf("unexpected details: %+v", d)
	}
	if len(d.Legs) != 2 || d.Legs[1].DurationSeconds != 200 {
		t.Fatalf("expected two legs parsed, got %+v", d.Legs)
	}
	if d.StartedAt == nil || d.EndedAt == nil {
		t.Fatalf("expected timestamps parsed")
	}
}

func TestCallStatus_RequiresRef(t *testing.T) {
	g := testGateway("https://api.example.com")
	if _, err := g.CallStatus(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty ref")
	}
}
