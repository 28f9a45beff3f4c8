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

	"gasline/internal/db"
	"gasline/internal/domain"
	"gasline/internal/engine"
	"gasline/internal/migrate"
)

const testDepot = "depot-1"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	fixed := func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) }
	e.Now = fixed
	e.Gate.Now = fixed
	e.Ledger.Now = fixed
	if _, err := e.InitDepot(context.Background(), testDepot, "test depot", "tester"); err != nil {
		t.Fatalf("init depot: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
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
	req.Header.Set("X-Actor-Id", "tester")
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

func seedFullStock(t *testing.T, srv *testServer, qty int) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/depots/"+testDepot+"/movements", map[string]any{
		"cylinder_size": "9kg",
		"movement_type": "received",
		"quantity":      qty,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("seed stock: %d %s", res.StatusCode, string(data))
	}
}

func createFleet(t *testing.T, srv *testServer) (driverID, vehicleID string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/depots/"+testDepot+"/drivers", map[string]any{
		"name":       "Sam",
		"license_no": "DG-1",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create driver: %d %s", res.StatusCode, string(data))
	}
	var d domain.Driver
	_ = json.Unmarshal(data, &d)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/depots/"+testDepot+"/vehicles", map[string]any{
		"registration": "TRK-001",
		"capacity_kg":  2000,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create vehicle: %d %s", res.StatusCode, string(data))
	}
	var v domain.Vehicle
	_ = json.Unmarshal(data, &v)
	return d.ID, v.ID
}

func completeChecklistHTTP(t *testing.T, srv *testServer, templateID, entityType, entityID string, items []string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/depots/"+testDepot+"/checklists", map[string]any{
		"template_id": templateID,
		"entity_type": entityType,
		"entity_id":   entityID,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start checklist: %d %s", res.StatusCode, string(data))
	}
	var resp domain.ChecklistResponse
	_ = json.Unmarshal(data, &resp)
	answers := make([]map[string]any, 0, len(items))
	for _, id := range items {
		answers = append(answers, map[string]any{"item_id": id, "passed": true})
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/depots/"+testDepot+"/checklists/"+resp.ID+"/complete", map[string]any{
		"answers": answers,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete checklist: %d %s", res.StatusCode, string(data))
	}
}

func TestHealthRequiresNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/health", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/depots/"+testDepot+"/orders", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestOrderDispatchOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	seedFullStock(t, srv, 50)
	driverID, vehicleID := createFleet(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/depots/"+testDepot+"/orders", map[string]any{
		"customer_id": "cust-1",
		"site_id":     "site-1",
		"items": []map[string]any{
			{"product_id": "lpg-9", "cylinder_size": "9kg", "quantity": 10},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create order: %d %s", res.StatusCode, string(data))
	}
	var order domain.Order
	if err := json.Unmarshal(data, &order); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}
	base := srv.URL + "/v0/depots/" + testDepot + "/orders/" + order.ID

	res, data = doJSON(t, client, http.MethodPost, base+"/schedule", map[string]any{
		"driver_id":  driverID,
		"vehicle_id": vehicleID,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("schedule: %d %s", res.StatusCode, string(data))
	}
	for _, status := range []string{"prepared", "loading"} {
		res, data = doJSON(t, client, http.MethodPost, base+"/transition", map[string]any{"status": status}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("transition %s: %d %s", status, res.StatusCode, string(data))
		}
	}

	// missing checklists block the dispatch
	res, data = doJSON(t, client, http.MethodPost, base+"/dispatch", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 from gate, got %d %s", res.StatusCode, string(data))
	}
	completeChecklistHTTP(t, srv, "vehicle.pre_trip", "vehicle", vehicleID,
		[]string{"brakes", "tyres", "load_restraints", "fire_extinguisher", "lights"})
	completeChecklistHTTP(t, srv, "driver.fitness", "driver", driverID,
		[]string{"licence_current", "fit_for_duty"})

	res, data = doJSON(t, client, http.MethodPost, base+"/dispatch", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dispatch: %d %s", res.StatusCode, string(data))
	}
	var dispatched domain.Order
	_ = json.Unmarshal(data, &dispatched)
	if dispatched.Status != domain.OrderDispatched {
		t.Fatalf("expected dispatched, got %s", dispatched.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/depots/"+testDepot+"/stock", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stock: %d %s", res.StatusCode, string(data))
	}
	var levels []StockLevelResponse
	if err := json.Unmarshal(data, &levels); err != nil {
		t.Fatalf("unmarshal stock: %v", err)
	}
	byBucket := map[string]int{}
	for _, l := range levels {
		byBucket[l.CylinderSize+"/"+l.StockStatus] = l.Quantity
	}
	if byBucket["9kg/full"] != 40 || byBucket["9kg/issued"] != 10 {
		t.Fatalf("unexpected stock: %v", byBucket)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/depots/"+testDepot+"/stock/verify", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify: %d %s", res.StatusCode, string(data))
	}
	var verify VerifyStockResponse
	_ = json.Unmarshal(data, &verify)
	if !verify.Consistent {
		t.Fatalf("expected consistent stock, got %s", string(data))
	}
}

func TestInvalidTransitionReturns422(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/depots/"+testDepot+"/orders", map[string]any{
		"customer_id": "cust-1",
		"site_id":     "site-1",
		"items": []map[string]any{
			{"product_id": "lpg-9", "cylinder_size": "9kg", "quantity": 1},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create order: %d %s", res.StatusCode, string(data))
	}
	var order domain.Order
	_ = json.Unmarshal(data, &order)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/depots/"+testDepot+"/orders/"+order.ID+"/transition", map[string]any{
		"status": "loading",
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
}

func TestMissingFieldsReturn400(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/depots/"+testDepot+"/orders", map[string]any{
		"site_id": "site-1",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
}

func TestDepotScopingHidesForeignOrders(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/depots", map[string]any{
		"id": "depot-2",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create depot: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/depots/"+testDepot+"/orders", map[string]any{
		"customer_id": "cust-1",
		"site_id":     "site-1",
		"items": []map[string]any{
			{"product_id": "lpg-9", "cylinder_size": "9kg", "quantity": 1},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create order: %d %s", res.StatusCode, string(data))
	}
	var order domain.Order
	_ = json.Unmarshal(data, &order)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/depots/depot-2/orders/"+order.ID, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 across depots, got %d %s", res.StatusCode, string(data))
	}
}

func TestDevLoginAndJWT(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v0/auth/dev/login",
		bytes.NewReader([]byte(`{"actor_id":"jwt-user"}`)))
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("expected token, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/depots/"+testDepot+"/quotes", map[string]any{
		"customer_id": "cust-1",
	}, map[string]string{"Authorization": "Bearer " + login.Token, "X-Actor-Id": ""})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create quote with jwt: %d %s", res.StatusCode, string(data))
	}
	var q domain.Quote
	_ = json.Unmarshal(data, &q)
	got, err2 := doRawGet(client, srv.URL+"/v0/depots/"+testDepot+"/quotes/"+q.ID, login.Token)
	if err2 != nil || got != http.StatusOK {
		t.Fatalf("get quote with jwt: %d %v", got, err2)
	}
}

func doRawGet(client *http.Client, url, token string) (int, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	res.Body.Close()
	return res.StatusCode, nil
}

func TestCountApprovalPermission(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	seedFullStock(t, srv, 50)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/depots/"+testDepot+"/counts", map[string]any{
		"count_date": "2024-03-01",
		"lines": []map[string]any{
			{"cylinder_size": "9kg", "stock_status": "full", "physical_quantity": 48},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit count: %d %s", res.StatusCode, string(data))
	}
	var dc domain.DailyCount
	_ = json.Unmarshal(data, &dc)
	if dc.Status != domain.CountPendingReview {
		t.Fatalf("expected pending_review, got %s", dc.Status)
	}

	// a token without the permission cannot approve
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v0/auth/dev/login",
		bytes.NewReader([]byte(`{"actor_id":"clerk"}`)))
	req.Header.Set("Content-Type", "application/json")
	loginRes, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	loginData, _ := io.ReadAll(loginRes.Body)
	loginRes.Body.Close()
	var clerk DevLoginResponse
	_ = json.Unmarshal(loginData, &clerk)

	approveURL := srv.URL + "/v0/depots/" + testDepot + "/counts/" + dc.ID + "/approve"
	res, data = doJSON(t, client, http.MethodPost, approveURL, nil,
		map[string]string{"Authorization": "Bearer " + clerk.Token, "X-Actor-Id": ""})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}

	// legacy local operators pass the permission check
	res, data = doJSON(t, client, http.MethodPost, approveURL, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}
	var approved domain.DailyCount
	_ = json.Unmarshal(data, &approved)
	if approved.Status != domain.CountApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}
}

func TestBatchPipelineOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/depots/" + testDepot + "/batches"

	res, data := doJSON(t, client, http.MethodPost, base, map[string]any{
		"cylinder_size": "19kg",
		"planned_count": 40,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create batch: %d %s", res.StatusCode, string(data))
	}
	var batch domain.RefillBatch
	_ = json.Unmarshal(data, &batch)

	steps := []struct {
		path string
		body any
	}{
		{"/inspect", nil},
		{"/inspection", map[string]any{"inspected_count": 40, "passed_inspection_count": 38}},
		{"/filling", map[string]any{"filled_count": 38}},
		{"/qc", map[string]any{"qc_passed_count": 36}},
		{"/stock", nil},
	}
	for _, step := range steps {
		res, data = doJSON(t, client, http.MethodPost, base+"/"+batch.ID+step.path, step.body, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("step %s: %d %s", step.path, res.StatusCode, string(data))
		}
	}
	var final domain.RefillBatch
	_ = json.Unmarshal(data, &final)
	if final.Status != domain.BatchStocked {
		t.Fatalf("expected stocked, got %s", final.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/depots/"+testDepot+"/stock", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatal(res.StatusCode)
	}
	var levels []StockLevelResponse
	_ = json.Unmarshal(data, &levels)
	found := false
	for _, l := range levels {
		if l.CylinderSize == "19kg" && l.StockStatus == "full" && l.Quantity == 36 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 36 full 19kg, got %s", string(data))
	}
}

func TestEventFeedPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	seedFullStock(t, srv, 10)
	seedFullStock(t, srv, 5)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/depots/"+testDepot+"/events?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 events, got %d", len(page.Items))
	}
	if page.NextCursor == "" {
		t.Fatalf("expected next cursor")
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/depots/"+testDepot+"/events?limit=50&cursor="+page.NextCursor, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2: %d %s", res.StatusCode, string(data))
	}
	var rest paginatedEvents
	_ = json.Unmarshal(data, &rest)
	if len(rest.Items) == 0 {
		t.Fatalf("expected remaining events")
	}
	for _, ev := range rest.Items {
		for _, first := range page.Items {
			if ev.ID == first.ID {
				t.Fatalf("event %d repeated across pages", ev.ID)
			}
		}
	}
}
