package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"pactline/internal/config"
	"pactline/internal/db"
	"pactline/internal/domain"
	"pactline/internal/engine"
	"pactline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	seed := []domain.Party{
		{ID: "client-1", Role: domain.RoleClient, Name: "Cora"},
		{ID: "creator-1", Role: domain.RoleCreator, Name: "Ken", Residency: "resident"},
		{ID: "admin-1", Role: domain.RoleAdmin, Name: "Ada"},
	}
	for _, p := range seed {
		if err := e.Repo.UpsertParty(context.Background(), p); err != nil {
			t.Fatalf("seed party: %v", err)
		}
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowLegacyActorHeader: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asClient(extra map[string]string) map[string]string {
	h := map[string]string{"X-Actor-Id": "client-1", "X-Actor-Name": "Cora", "X-Actor-Role": "client"}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func asCreator() map[string]string {
	return map[string]string{"X-Actor-Id": "creator-1", "X-Actor-Name": "Ken", "X-Actor-Role": "creator"}
}

func asAdmin() map[string]string {
	return map[string]string{"X-Actor-Id": "admin-1", "X-Actor-Name": "Ada", "X-Actor-Role": "admin"}
}

func createOffer(t *testing.T, srv *testServer, method string) domain.Contract {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/contracts", map[string]any{
		"client_id":  "client-1",
		"creator_id": "creator-1",
		"title":      "Brand refresh",
		"terms": map[string]any{
			"payment_type":   "milestone",
			"payment_method": method,
			"milestones": []map[string]any{
				{"title": "Concepts", "amount": 3000},
				{"title": "Final art", "amount": 7000},
			},
		},
	}, asClient(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var c domain.Contract
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal contract: %v", err)
	}
	return c
}

func TestHealthNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/contracts", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %q, want unauthorized", envelope.Error.Code)
	}
}

func TestCreateOfferDerivesTerms(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	// Only caller-supplied fields go over the wire; ids, positions,
	// statuses and the total are filled in server-side.
	c := createOffer(t, srv, "escrow")
	if c.Terms.Amount != 10000 {
		t.Fatalf("amount = %d, want 10000", c.Terms.Amount)
	}
	if c.Terms.Currency == "" {
		t.Fatalf("currency not defaulted")
	}
	for i, m := range c.Terms.Milestones {
		if m.ID == "" {
			t.Fatalf("milestone %d has no id", i)
		}
		if m.Position != i {
			t.Fatalf("milestone %d position = %d", i, m.Position)
		}
		if m.Status != domain.MilestonePending {
			t.Fatalf("milestone %d status = %s, want pending", i, m.Status)
		}
	}
}

func TestNegotiationOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := createOffer(t, srv, "escrow")

	// out-of-turn counter maps to 409
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/contracts/"+c.ID+"/counter", map[string]any{
		"terms": map[string]any{
			"payment_type":   "milestone",
			"payment_method": "escrow",
			"milestones":     []map[string]any{{"title": "All", "amount": 2000}, {"title": "Rest", "amount": 8000}},
		},
	}, asClient(nil))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("self-counter status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/contracts/"+c.ID+"/accept", nil, asCreator())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}
	var accepted domain.Contract
	if err := json.Unmarshal(data, &accepted); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if accepted.Status != domain.ContractAwaitingDeposit {
		t.Fatalf("status = %s, want awaiting_deposit", accepted.Status)
	}

	// wrong deposit maps to 400
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/contracts/"+c.ID+"/fund", map[string]any{
		"amount": 10000,
	}, asClient(nil))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("short fund status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/contracts/"+c.ID+"/fund", map[string]any{
		"amount": 10300,
	}, asClient(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("fund status %d: %s", res.StatusCode, string(data))
	}
}

func TestContractVisibilityOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := createOffer(t, srv, "escrow")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/contracts/"+c.ID, nil, map[string]string{
		"X-Actor-Id": "stranger-1", "X-Actor-Role": "client",
	})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/contracts/"+c.ID, nil, asAdmin())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin status %d", res.StatusCode)
	}
}

func TestDisputeQueueAdminOnly(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/disputes", nil, asCreator())
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("creator status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/disputes", nil, asAdmin())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin status %d: %s", res.StatusCode, string(data))
	}
	var cases []domain.DisputeCase
	if err := json.Unmarshal(data, &cases); err != nil {
		t.Fatalf("unmarshal cases: %v", err)
	}
	if len(cases) != 0 {
		t.Fatalf("expected empty queue, got %d", len(cases))
	}
}

func TestQuotesMatchRateCard(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/quotes/funding?amount=5000", nil, asClient(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("funding status %d: %s", res.StatusCode, string(data))
	}
	var funding FundingQuote
	if err := json.Unmarshal(data, &funding); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if funding.EscrowFee != 150 || funding.Total != 5150 {
		t.Fatalf("funding quote = %+v, want fee 150 total 5150", funding)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/quotes/payout?amount=10000&method=escrow&residency=resident", nil, asCreator())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("payout status %d: %s", res.StatusCode, string(data))
	}
	var payout PayoutQuote
	if err := json.Unmarshal(data, &payout); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payout.Commission != 800 || payout.WithholdingTax != 460 || payout.TakeHome != 8740 {
		t.Fatalf("payout quote = %+v, want 800/460/8740", payout)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/quotes/gross-up?net=8740&method=escrow&residency=resident", nil, asCreator())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("gross-up status %d: %s", res.StatusCode, string(data))
	}
	var gross GrossUpQuote
	if err := json.Unmarshal(data, &gross); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if gross.Gross != 10000 {
		t.Fatalf("gross = %d, want 10000", gross.Gross)
	}

	// per-milestone gross-up: each amount scales, the total is resummed
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/quotes/gross-up?milestones=4370,4370&method=escrow&residency=resident", nil, asCreator())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("milestone gross-up status %d: %s", res.StatusCode, string(data))
	}
	gross = GrossUpQuote{}
	if err := json.Unmarshal(data, &gross); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(gross.Milestones) != 2 || gross.Milestones[0] != 5000 || gross.Milestones[1] != 5000 {
		t.Fatalf("milestones = %v, want [5000 5000]", gross.Milestones)
	}
	if gross.DesiredNet != 8740 || gross.Gross != 10000 || gross.TakeHome != 8740 {
		t.Fatalf("milestone gross-up = %+v", gross)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/quotes/distribute?total=20000&count=3", nil, asClient(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("distribute status %d: %s", res.StatusCode, string(data))
	}
	var dist DistributeQuote
	if err := json.Unmarshal(data, &dist); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []int64{6000, 7000, 7000}
	if len(dist.Amounts) != 3 {
		t.Fatalf("amounts = %v, want %v", dist.Amounts, want)
	}
	for i := range want {
		if dist.Amounts[i] != want[i] {
			t.Fatalf("amounts = %v, want %v", dist.Amounts, want)
		}
	}
}

func TestEventsAndNotificationsFeed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := createOffer(t, srv, "direct")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/contracts/"+c.ID+"/accept", nil, asCreator())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?contract_id="+c.ID, nil, asAdmin())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []domain.Event
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want created+accepted", len(events))
	}

	// non-admin callers only see events for contracts they are party to
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?contract_id="+c.ID, nil, asCreator())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("creator events status %d: %s", res.StatusCode, string(data))
	}
	events = nil
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("creator got %d events, want 2", len(events))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?contract_id="+c.ID, nil, map[string]string{
		"X-Actor-Id": "stranger-1", "X-Actor-Role": "client",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stranger events status %d: %s", res.StatusCode, string(data))
	}
	events = nil
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("stranger got %d events, want none", len(events))
	}

	// acceptance notified the client
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/notifications?unread=true", nil, asClient(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notifications status %d: %s", res.StatusCode, string(data))
	}
	var notes []domain.Notification
	if err := json.Unmarshal(data, &notes); err != nil {
		t.Fatalf("unmarshal notifications: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notes))
	}

	// only the addressee can acknowledge a notification
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/notifications/"+notes[0].ID+"/read", nil, asCreator())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-party mark read status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/notifications/"+notes[0].ID+"/read", nil, asClient(nil))
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		t.Fatalf("mark read status %d", res.StatusCode)
	}
}
