package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"unitask.org/internal/auth"
	"unitask.org/internal/ledger"
	"unitask.org/internal/market"
	"unitask.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("UNITASK_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	led := ledger.NewInMemory()
	evs := stream.New()
	svc, err := market.New(led, evs, "owner", market.WithInitialGrant(1_000_000))
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}

	api := New(ReadyProbe{}, "test", svc, led, evs)
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(user string, roles []string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"user":  user,
		"roles": roles,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func (c *apiClient) bearer(user string, roles ...string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.obtainToken(user, roles)}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAPITaskLifecycleFlow(t *testing.T) {
	api := newTestAPI(t)
	companyAuth := api.bearer("co_1", "company")
	studentAuth := api.bearer("st_1", "student")
	ownerAuth := api.bearer("owner", "admin")

	// Register a company; the registration grant funds its account.
	resp := api.post("/v1/companies", map[string]any{
		"name":        "Acme Robotics",
		"description": "builds robots",
	}, companyAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register company: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Posting a task before verification is rejected.
	deadline := time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339)
	taskBody := map[string]any{
		"title":       "Assemble prototype",
		"description": "wire the control board and document the steps",
		"reward":      1000,
		"deadline":    deadline,
	}
	resp = api.post("/v1/tasks", taskBody, companyAuth)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for unverified company, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The owner approves the company.
	resp = api.post("/v1/companies/co_1/verify", nil, ownerAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify company: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Register the student.
	resp = api.post("/v1/students", map[string]any{
		"name":   "Sam Lee",
		"skills": []string{"soldering", "go"},
	}, studentAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register student: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Create, accept, submit, verify.
	resp = api.post("/v1/tasks", taskBody, companyAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d", resp.StatusCode)
	}
	task := decode[map[string]any](t, resp)
	if task["status"] != "created" {
		t.Fatalf("unexpected task status: %v", task["status"])
	}

	resp = api.post("/v1/tasks/1/accept", nil, studentAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept task: %d", resp.StatusCode)
	}
	accepted := decode[map[string]any](t, resp)
	if accepted["status"] != "accepted" || accepted["performer"] != "st_1" {
		t.Fatalf("unexpected accepted task: %v", accepted)
	}

	resp = api.post("/v1/tasks/1/submit", map[string]any{
		"submission_ref": "git.example.com/sam/proto#v1",
	}, studentAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit task: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Verifying an already-verified transition fails with 409 later; first
	// the owner verifies successfully.
	verifyBody := map[string]any{
		"quality":  90,
		"deadline": 90,
		"attitude": 90,
		"feedback": "clean work, shipped early",
	}
	resp = api.post("/v1/tasks/1/verify", verifyBody, ownerAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify task: %d", resp.StatusCode)
	}
	done := decode[map[string]any](t, resp)
	if done["status"] != "completed" {
		t.Fatalf("unexpected verified task: %v", done)
	}

	resp = api.post("/v1/tasks/1/verify", verifyBody, ownerAuth)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double verify, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Performer received the net reward (5% platform fee on 1000).
	resp = api.get("/v1/accounts/st_1/balance", nil, studentAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get balance: %d", resp.StatusCode)
	}
	bal := decode[map[string]any](t, resp)
	if bal["amount"].(float64) != 950 {
		t.Fatalf("unexpected performer balance: %v", bal["amount"])
	}

	// Reputation moved up a tier.
	resp = api.get("/v1/students/st_1", nil, studentAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get student: %d", resp.StatusCode)
	}
	student := decode[map[string]any](t, resp)
	if student["reputation"].(float64) != 520 {
		t.Fatalf("unexpected reputation: %v", student["reputation"])
	}

	// Completed tasks are listable.
	resp = api.get("/v1/tasks", url.Values{"status": []string{"completed"}}, studentAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list tasks: %d", resp.StatusCode)
	}
	listing := decode[listTasksResponse](t, resp)
	if len(listing.Items) != 1 || listing.Items[0].ID != 1 {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	// The transaction log includes grant, escrow, reward and fee entries.
	resp = api.get("/v1/transactions", url.Values{"limit": []string{"10"}}, ownerAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list transactions: %d", resp.StatusCode)
	}
	txs := decode[listTransactionsResponse](t, resp)
	if len(txs.Items) != 4 {
		t.Fatalf("expected 4 ledger entries, got %d", len(txs.Items))
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/tasks", map[string]any{"title": "nope"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestAPIRejectsTamperedToken(t *testing.T) {
	api := newTestAPI(t)
	token := api.obtainToken("st_1", []string{"student"})

	resp := api.get("/v1/tasks", nil, map[string]string{
		"Authorization": "Bearer " + token + "x",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	api := newTestAPI(t)
	studentAuth := api.bearer("st_1", "student")
	ownerAuth := api.bearer("owner", "admin")
	impostorAuth := api.bearer("mallory", "admin")

	// Role gate first.
	resp := api.post("/v1/admin/pause", nil, studentAuth)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without admin role, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Admin role alone is not enough; the engine checks the owner identity.
	resp = api.post("/v1/admin/pause", nil, impostorAuth)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner admin, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/admin/pause", nil, ownerAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner pause: %d", resp.StatusCode)
	}
	status := decode[map[string]any](t, resp)
	if status["paused"] != true {
		t.Fatalf("expected paused=true, got %v", status)
	}

	// Registration is rejected while paused, mapped to 429.
	companyAuth := api.bearer("co_1", "company")
	resp = api.post("/v1/companies", map[string]any{"name": "Acme"}, companyAuth)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 while paused, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/admin/unpause", nil, ownerAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner unpause: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminSecurityConfigRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	ownerAuth := api.bearer("owner", "admin")

	resp := api.get("/v1/admin/security", nil, ownerAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get security config: %d", resp.StatusCode)
	}
	cfg := decode[securityConfigBody](t, resp)
	if cfg.PlatformFeePercent != 5 {
		t.Fatalf("unexpected default fee: %d", cfg.PlatformFeePercent)
	}

	cfg.PlatformFeePercent = 10
	cfg.CooldownSeconds = 1800
	req, err := http.NewRequest(http.MethodPut, api.baseURL+"/v1/admin/security", bytes.NewReader(mustJSON(t, cfg)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", ownerAuth["Authorization"])
	resp, err = api.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	updated := decode[securityConfigBody](t, resp)
	if updated.PlatformFeePercent != 10 || updated.CooldownSeconds != 1800 {
		t.Fatalf("config not applied: %+v", updated)
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"user": ""}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHealthAndInfoArePublic(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp := api.get(path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}

	// /v1/info sits behind auth like the rest of /v1.
	resp := api.get("/v1/info", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for /v1/info without token, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/info", nil, api.bearer("anyone", "viewer"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/v1/info: %d", resp.StatusCode)
	}
	info := decode[map[string]any](t, resp)
	if info["currency"] != "UNI" {
		t.Fatalf("unexpected currency: %v", info["currency"])
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestAdminTokenRequiresConfiguredPassword(t *testing.T) {
	c := newTestAPI(t)

	hash, err := auth.HashPassword("operator-secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	t.Setenv("UNITASK_ADMIN_PASSWORD_HASH", hash)

	resp := c.post("/v1/auth/token", map[string]any{
		"user":  "owner",
		"roles": []string{"admin"},
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without password, got %d", resp.StatusCode)
	}

	resp = c.post("/v1/auth/token", map[string]any{
		"user":     "owner",
		"roles":    []string{"admin"},
		"password": "wrong",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", resp.StatusCode)
	}

	resp = c.post("/v1/auth/token", map[string]any{
		"user":     "owner",
		"roles":    []string{"admin"},
		"password": "operator-secret",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with correct password, got %d", resp.StatusCode)
	}

	// Non-admin tokens stay unaffected by the credential gate.
	resp = c.post("/v1/auth/token", map[string]any{
		"user":  "st_9",
		"roles": []string{"student"},
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for non-admin token, got %d", resp.StatusCode)
	}
}
