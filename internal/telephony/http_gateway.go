package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"matchcall/internal/config"
)

// HTTPGateway talks to the provider's REST API: form-encoded requests over
// HTTPS with basic auth, JSON responses.

type HTTPGateway struct {
	baseURL  string
	apiKey   string
	apiToken string
	client   *http.Client
}

func NewHTTPGateway(cfg config.GatewayConfig) *HTTPGateway {
	return &HTTPGateway{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		apiToken: cfg.APIToken,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// connectPayload mirrors the provider's connect response envelope.
type connectPayload struct {
	Call struct {
		Sid    string `json:"Sid"`
		Status string `json:"Status"`
	} `json:"Call"`
}

func (g *HTTPGateway) Connect(ctx context.Context, req ConnectRequest) (ConnectResponse, error) {
	form := url.Values{}
	form.Set("From", req.From)
	form.Set("To", req.To)
	form.Set("CallerId", req.CallerID)
	form.Set("StatusCallback", req.CallbackURL)
	form.Set("StatusCallbackEvents[0]", "terminal")
	form.Set("StatusCallbackEvents[1]", "answered")
	form.Set("Record", "true")
	if req.Metadata != "" {
		form.Set("CustomField", req.Metadata)
	}

	body, err := g.postForm(ctx, "connect", g.baseURL+"/Calls/connect.json", form)
	if err != nil {
		return ConnectResponse{}, err
	}

	var payload connectPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ConnectResponse{}, &GatewayError{Op: "connect", Err: fmt.Errorf("malformed response: %w", err)}
	}
	if payload.Call.Sid == "" {
		return ConnectResponse{}, &GatewayError{Op: "connect", Err: fmt.Errorf("response missing call sid")}
	}
	return ConnectResponse{ProviderRef: payload.Call.Sid, Status: payload.Call.Status}, nil
}

// statusPayload mirrors the provider's call-details envelope.
type statusPayload struct {
	Call struct {
		Sid                  string `json:"Sid"`
		Status               string `json:"Status"`
		Duration             int    `json:"Duration"`
		ConversationDuration int    `json:"ConversationDuration"`
		RecordingURL         string `json:"RecordingUrl"`
		StartTime            string `json:"StartTime"`
		EndTime              string `json:"EndTime"`
		Legs                 []struct {
			Status         string `json:"Status"`
			OnCallDuration int    `json:"OnCallDuration"`
		} `json:"Legs"`
	} `json:"Call"`
}

func (g *HTTPGateway) CallStatus(ctx context.Context, providerRef string) (CallDetails, error) {
	if providerRef == "" {
		return CallDetails{}, &GatewayError{Op: "status", Err: fmt.Errorf("provider ref is required")}
	}

	u := fmt.Sprintf("%s/Calls/%s.json?details=true", g.baseURL, url.PathEscape(providerRef))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return CallDetails{}, &GatewayError{Op: "status", Err: err}
	}
	httpReq.SetBasicAuth(g.apiKey, g.apiToken)

	body, err := g.do("status", httpReq)
	if err != nil {
		return CallDetails{}, err
	}

	var payload statusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return CallDetails{}, &GatewayError{Op: "status", Err: fmt.Errorf("malformed response: %w", err)}
	}
	if payload.Call.Sid == "" {
		return CallDetails{}, &GatewayError{Op: "status", Err: fmt.Errorf("response missing call sid")}
	}

	d := CallDetails{
		ProviderRef:         payload.Call.Sid,
		Status:              payload.Call.Status,
		DurationSeconds:     payload.Call.Duration,
		ConversationSeconds: payload.Call.ConversationDuration,
		RecordingURL:        payload.Call.RecordingURL,
		StartedAt:           parseProviderTime(payload.Call.StartTime),
		EndedAt:             parseProviderTime(payload.Call.EndTime),
	}
	for _, l := range payload.Call.Legs {
		d.Legs = append(d.Legs, Leg{Status: l.Status, DurationSeconds: l.OnCallDuration})
	}
	return d, nil
}

func (g *HTTPGateway) postForm(ctx context.Context, op, u string, form url.Values) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(g.apiKey, g.apiToken)
	return g.do(op, httpReq)
}

func (g *HTTPGateway) do(op string, req *http.Request) ([]byte, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// parseProviderTime handles the provider's "2006-01-02 15:04:05" timestamps.
// Provider times are IST in practice; stored as-is and treated as opaque.
func parseProviderTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return nil
	}
	return &t
}
