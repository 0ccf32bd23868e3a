package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"matchcall/internal/auth"
	"matchcall/internal/calls"
	"matchcall/internal/credits"
	"matchcall/internal/telephony"
	"matchcall/internal/users"

	"github.com/gin-gonic/gin"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubGateway struct {
	connectErr error
	details    map[string]telephony.CallDetails
}

func (g *stubGateway) Connect(ctx context.Context, req telephony.ConnectRequest) (telephony.ConnectResponse, error) {
	if g.connectErr != nil {
		return telephony.ConnectResponse{}, g.connectErr
	}
	return telephony.ConnectResponse{ProviderRef: "prov-http-1", Status: "in-progress"}, nil
}

func (g *stubGateway) CallStatus(ctx context.Context, providerRef string) (telephony.CallDetails, error) {
	d, ok := g.details[providerRef]
	if !ok {
		return telephony.CallDetails{}, &telephony.GatewayError{Op: "call status", StatusCode: 404}
	}
	return d, nil
}

// identityAs fakes an authenticated request for handler tests.
func identityAs(userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), userID, role))
		c.Next()
	}
}

type testAPI struct {
	router      *gin.Engine
	callsSvc    *calls.Service
	creditsSvc  *credits.Service
	callsRepo   *calls.MemoryRepo
	creditsRepo *credits.MemoryRepo
	dir         *users.MemoryDirectory
	gateway     *stubGateway
}

func newTestAPI(t *testing.T, userID string) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	a := &testAPI{
		callsRepo:   calls.NewMemoryRepo(),
		creditsRepo: credits.NewMemoryRepo(),
		dir:         users.NewMemoryDirectory(),
		gateway:     &stubGateway{details: map[string]telephony.CallDetails{}},
	}
	a.creditsSvc = credits.NewService(a.creditsRepo).WithClock(func() time.Time { return testNow })
	a.callsSvc = calls.NewService(calls.Params{
		Repo:    a.callsRepo,
		Credits: a.creditsSvc,
		Users:   a.dir,
		Gateway: a.gateway,
		Tx:      calls.NewMemoryTxRunner(),
	}).WithClock(func() time.Time { return testNow })

	h := Handlers{
		Calls:   a.callsSvc,
		Credits: a.creditsSvc,
		Now:     func() time.Time { return testNow },
	}

	r := gin.New()
	r.POST("/webhooks/voice/status", h.VoiceStatusWebhook)

	v1 := r.Group("/v1", identityAs(userID, "member"))
	v1.POST("/calls", h.InitiateCall)
	v1.GET("/calls/:id", h.GetCall)
	v1.GET("/credits", h.GetCredits)

	admin := r.Group("/v1/admin", identityAs("u-admin", auth.RoleAdmin))
	admin.POST("/credits/grant", h.AdminGrantCredits)
	admin.POST("/credits/adjust", h.AdminAdjustCredits)

	a.router = r
	return a
}

func (a *testAPI) seedPair(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	a.dir.AddUser(users.User{ID: "u-1", Phone: "+919900112233", Active: true})
	a.dir.AddUser(users.User{ID: "u-2", Phone: "+919900445566", Active: true})
	a.dir.AddMatch("u-1", "u-2")
	for _, id := range []string{"u-1", "u-2"} {
		if _, err := a.creditsSvc.Grant(ctx, id, 10, 30*24*time.Hour, "test pack"); err != nil {
			t.Fatalf("grant %s: %v", id, err)
		}
	}
}

func mustGrant(t *testing.T, svc *credits.Service, userID string) {
	t.Helper()
	if _, err := svc.Grant(context.Background(), userID, 5, 24*time.Hour, "test"); err != nil {
		t.Fatalf("grant %s: %v", userID, err)
	}
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInitiateCallEndpoint(t *testing.T) {
	a := newTestAPI(t, "u-1")
	a.seedPair(t)

	w := doJSON(t, a.router, http.MethodPost, "/v1/calls", `{"receiver_id":"u-2"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res calls.InitiateResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.SessionID == "" || res.ProviderRef != "prov-http-1" {
		t.Errorf("result = %+v", res)
	}
}

func TestInitiateCallErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*testAPI)
		receiver string
		want     int
	}{
		{
			name: "caller without credits",
			setup: func(a *testAPI) {
				a.dir.AddUser(users.User{ID: "u-1", Phone: "+911", Active: true})
				a.dir.AddUser(users.User{ID: "u-2", Phone: "+912", Active: true})
				a.dir.AddMatch("u-1", "u-2")
				mustGrant(t, a.creditsSvc, "u-2")
			},
			receiver: "u-2",
			want:     http.StatusPaymentRequired,
		},
		{
			name: "receiver without credits",
			setup: func(a *testAPI) {
				a.dir.AddUser(users.User{ID: "u-1", Phone: "+911", Active: true})
				a.dir.AddUser(users.User{ID: "u-2", Phone: "+912", Active: true})
				a.dir.AddMatch("u-1", "u-2")
				mustGrant(t, a.creditsSvc, "u-1")
			},
			receiver: "u-2",
			want:     http.StatusConflict,
		},
		{
			name:     "not matched",
			setup:    func(a *testAPI) { a.seedPair(t) },
			receiver: "u-1",
			want:     http.StatusForbidden,
		},
		{
			name: "gateway down",
			setup: func(a *testAPI) {
				a.seedPair(t)
				a.gateway.connectErr = &telephony.GatewayError{Op: "connect call", StatusCode: 503}
			},
			receiver: "u-2",
			want:     http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t, "u-1")
			tt.setup(a)
			w := doJSON(t, a.router, http.MethodPost, "/v1/calls", `{"receiver_id":"`+tt.receiver+`"}`)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestInitiateCallRejectsBadBody(t *testing.T) {
	a := newTestAPI(t, "u-1")

	if w := doJSON(t, a.router, http.MethodPost, "/v1/calls", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d", w.Code)
	}
	if w := doJSON(t, a.router, http.MethodPost, "/v1/calls", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing receiver: status = %d", w.Code)
	}
}

func TestGetCallPartyScoping(t *testing.T) {
	a := newTestAPI(t, "u-1")
	a.seedPair(t)

	res, err := a.callsSvc.Initiate(context.Background(), "u-1", "u-2")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	w := doJSON(t, a.router, http.MethodGet, "/v1/calls/"+res.SessionID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("party view: status = %d", w.Code)
	}

	// A stranger gets 404, indistinguishable from a missing session.
	h := Handlers{Calls: a.callsSvc, Credits: a.creditsSvc}
	r := gin.New()
	r.GET("/v1/calls/:id", identityAs("u-stranger", "member"), h.GetCall)
	w = doJSON(t, r, http.MethodGet, "/v1/calls/"+res.SessionID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("stranger view: status = %d, want 404", w.Code)
	}

	w = doJSON(t, a.router, http.MethodGet, "/v1/calls/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing session: status = %d, want 404", w.Code)
	}
}

func TestWebhookEndpoint(t *testing.T) {
	a := newTestAPI(t, "u-1")
	a.seedPair(t)

	res, err := a.callsSvc.Initiate(context.Background(), "u-1", "u-2")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	body := `{"CallSid":"` + res.ProviderRef + `","Status":"completed","ConversationDuration":125}`
	w := doJSON(t, a.router, http.MethodPost, "/webhooks/voice/status", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	sess, _, _ := a.callsRepo.SessionByID(context.Background(), res.SessionID)
	if sess.Status != calls.StatusCompleted {
		t.Errorf("session status = %s, want completed", sess.Status)
	}
	if sess.CostUnits != 3 {
		t.Errorf("cost = %d, want 3", sess.CostUnits)
	}
}

func TestWebhookWithoutReference(t *testing.T) {
	a := newTestAPI(t, "u-1")

	w := doJSON(t, a.router, http.MethodPost, "/webhooks/voice/status", `{"Status":"completed"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	// The payload is still stored for inspection.
	recs := a.callsRepo.Webhooks()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Processed {
		t.Error("uncorrelatable record marked processed")
	}
	if recs[0].Payload != `{"Status":"completed"}` {
		t.Errorf("payload = %q", recs[0].Payload)
	}
}

func TestWebhookMalformedBodyStored(t *testing.T) {
	a := newTestAPI(t, "u-1")

	w := doJSON(t, a.router, http.MethodPost, "/webhooks/voice/status", `{nope`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	recs := a.callsRepo.Webhooks()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Processed {
		t.Error("malformed record marked processed")
	}
	if recs[0].Payload != `{nope` {
		t.Errorf("payload = %q", recs[0].Payload)
	}
}

func TestWebhookUnknownRefStillAcks(t *testing.T) {
	a := newTestAPI(t, "u-1")

	w := doJSON(t, a.router, http.MethodPost, "/webhooks/voice/status",
		`{"CallSid":"never-seen","Status":"completed"}`)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestGetCreditsEndpoint(t *testing.T) {
	a := newTestAPI(t, "u-1")
	a.seedPair(t)

	// An expired pack must not count toward remaining but still appear in
	// the allocation list.
	expired := credits.Allocation{
		ID:        "alloc-old",
		UserID:    "u-1",
		Purchased: 30,
		Remaining: 30,
		ExpiresAt: testNow.Add(-time.Hour),
		CreatedAt: testNow.Add(-48 * time.Hour),
	}
	if err := a.creditsRepo.InsertAllocation(context.Background(), expired); err != nil {
		t.Fatalf("insert allocation: %v", err)
	}

	w := doJSON(t, a.router, http.MethodGet, "/v1/credits", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Remaining   int                   `json:"remaining"`
		Allocations []credits.Allocation  `json:"allocations"`
		Ledger      []credits.LedgerEntry `json:"ledger"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Remaining != 10 {
		t.Errorf("remaining = %d, want 10", body.Remaining)
	}
	if len(body.Allocations) != 2 || len(body.Ledger) != 1 {
		t.Errorf("allocations = %d, ledger = %d", len(body.Allocations), len(body.Ledger))
	}
}

func TestAdminGrantAndAdjust(t *testing.T) {
	a := newTestAPI(t, "u-1")
	a.dir.AddUser(users.User{ID: "u-3", Phone: "+913", Active: true})

	w := doJSON(t, a.router, http.MethodPost, "/v1/admin/credits/grant",
		`{"user_id":"u-3","amount":20,"validity_days":15,"reason":"promo"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("grant: status = %d, body = %s", w.Code, w.Body.String())
	}
	var alloc credits.Allocation
	if err := json.Unmarshal(w.Body.Bytes(), &alloc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alloc.Remaining != 20 {
		t.Errorf("remaining = %d, want 20", alloc.Remaining)
	}
	wantExpiry := testNow.Add(15 * 24 * time.Hour)
	if !alloc.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expires_at = %v, want %v", alloc.ExpiresAt, wantExpiry)
	}

	w = doJSON(t, a.router, http.MethodPost, "/v1/admin/credits/adjust",
		`{"user_id":"u-3","delta":-5,"reason":"correction"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("adjust: status = %d, body = %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &alloc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alloc.Remaining != 15 {
		t.Errorf("remaining = %d, want 15", alloc.Remaining)
	}
}

func TestAdminGrantValidation(t *testing.T) {
	a := newTestAPI(t, "u-1")

	w := doJSON(t, a.router, http.MethodPost, "/v1/admin/credits/grant",
		`{"user_id":"","amount":0,"reason":""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAdminAdjustWithoutAllocation(t *testing.T) {
	a := newTestAPI(t, "u-1")

	w := doJSON(t, a.router, http.MethodPost, "/v1/admin/credits/adjust",
		`{"user_id":"u-empty","delta":-5,"reason":"correction"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
