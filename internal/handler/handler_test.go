package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"gowa-gateway/internal/middleware"
	"gowa-gateway/internal/protocol/protocoltest"
	"gowa-gateway/internal/service"
)

const testKey = "test-key"

type testServer struct {
	e      *echo.Echo
	m      *service.Manager
	dialer *protocoltest.Dialer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	opts := service.DefaultOptions()
	opts.SessionsDir = t.TempDir()

	dialer := &protocoltest.Dialer{}
	m := service.NewManager(service.Config{
		Dialer:    dialer,
		AuthStore: &protocoltest.AuthStore{},
		Options:   opts,
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	e := echo.New()
	e.HTTPErrorHandler = HTTPErrorHandler(zerolog.Nop())
	New(m, nil, Options{QRWait: 300 * time.Millisecond, WebhookURL: "https://hooks.example.com/wa"}, zerolog.Nop()).
		Register(e, middleware.APIKeyAuthMiddleware(testKey))

	return &testServer{e: e, m: m, dialer: dialer}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(middleware.APIKeyHeader, testKey)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func (s *testServer) state(t *testing.T, name string) string {
	t.Helper()
	_, body := s.do(t, http.MethodGet, "/instance/connectionState/"+name, nil)
	inst, _ := body["instance"].(map[string]interface{})
	state, _ := inst["state"].(string)
	return state
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInstanceLifecycleEndToEnd(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodPost, "/instance/create", map[string]string{"instanceName": "t1", "token": "abc"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	inst := body["instance"].(map[string]interface{})
	if inst["instanceName"] != "t1" || inst["status"] != "created" {
		t.Fatalf("unexpected create body %v", body)
	}
	if body["hash"].(map[string]interface{})["apikey"] != "abc" {
		t.Fatalf("expected token echoed as hash.apikey, got %v", body["hash"])
	}

	if st := s.state(t, "t1"); st != "connecting" && st != "qr" {
		t.Fatalf("expected connecting or qr, got %q", st)
	}

	s.dialer.Last().EmitOpen()
	waitUntil(t, "open", func() bool { return s.state(t, "t1") == "open" })

	rec, body = s.do(t, http.MethodPost, "/message/sendText/t1", map[string]string{"number": "5511999999999", "text": "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("sendText: %d %s", rec.Code, rec.Body.String())
	}
	key := body["key"].(map[string]interface{})
	if key["id"] == "" || key["remoteJid"] != "5511999999999@s.whatsapp.net" || key["fromMe"] != true {
		t.Fatalf("unexpected key %v", key)
	}
	if body["status"] != "PENDING" || body["message"].(map[string]interface{})["conversation"] != "hi" {
		t.Fatalf("unexpected send body %v", body)
	}

	rec, body = s.do(t, http.MethodDelete, "/instance/logout/t1", nil)
	if rec.Code != http.StatusOK || body["error"] != false {
		t.Fatalf("logout: %d %v", rec.Code, body)
	}
	if !s.dialer.Last().LoggedOut() {
		t.Fatalf("expected protocol logout")
	}
	if st := s.state(t, "t1"); st != "close" {
		t.Fatalf("expected close after logout, got %q", st)
	}
}

func TestCreateErrors(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/instance/create", map[string]string{"instanceName": "t1"})

	rec, body := s.do(t, http.MethodPost, "/instance/create", map[string]string{"instanceName": "t1"})
	if rec.Code != http.StatusConflict || body["error"] != true || body["code"] != "INSTANCE_EXISTS" {
		t.Fatalf("expected 409, got %d %v", rec.Code, body)
	}

	rec, _ = s.do(t, http.MethodPost, "/instance/create", map[string]string{"instanceName": "../etc"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsafe name, got %d", rec.Code)
	}

	rec, _ = s.do(t, http.MethodPost, "/instance/create", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing name, got %d", rec.Code)
	}
}

func TestCreateWithQRCode(t *testing.T) {
	s := newTestServer(t)
	s.dialer.OnDial = func(c *protocoltest.Conn) { c.EmitQR("pair-me") }

	rec, body := s.do(t, http.MethodPost, "/instance/create", map[string]interface{}{"instanceName": "t1", "qrcode": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("create: %d", rec.Code)
	}
	qr, ok := body["qrcode"].(map[string]interface{})
	if !ok || qr["code"] != "pair-me" {
		t.Fatalf("expected qrcode in response, got %v", body)
	}
}

func TestConnectReturnsQRCode(t *testing.T) {
	s := newTestServer(t)
	s.dialer.OnDial = func(c *protocoltest.Conn) { c.EmitQR("pair-me") }

	rec, body := s.do(t, http.MethodGet, "/instance/connect/t1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("connect: %d %s", rec.Code, rec.Body.String())
	}
	if body["code"] != "pair-me" || body["count"] != float64(1) {
		t.Fatalf("unexpected body %v", body)
	}
	if b64, _ := body["base64"].(string); !strings.HasPrefix(b64, "data:image/png;base64,") {
		t.Fatalf("expected png data url, got %q", b64)
	}

	// a second call reuses the running session
	s.do(t, http.MethodGet, "/instance/connect/t1", nil)
	if got := len(s.dialer.Conns()); got != 1 {
		t.Fatalf("expected a single dial, got %d", got)
	}
}

func TestConnectStillGenerating(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodGet, "/instance/connect/t1", nil)
	if rec.Code != http.StatusAccepted || body["status"] != "generating" {
		t.Fatalf("expected 202 generating, got %d %v", rec.Code, body)
	}
}

func TestConnectWhenOpen(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/instance/create", map[string]string{"instanceName": "t1"})
	s.dialer.Last().EmitOpen()
	waitUntil(t, "open", func() bool { return s.state(t, "t1") == "open" })

	rec, body := s.do(t, http.MethodGet, "/instance/connect/t1", nil)
	inst, _ := body["instance"].(map[string]interface{})
	if rec.Code != http.StatusOK || inst["state"] != "open" {
		t.Fatalf("expected open instance, got %d %v", rec.Code, body)
	}
}

func TestConnectionStateUnknownIsClose(t *testing.T) {
	s := newTestServer(t)
	if st := s.state(t, "ghost"); st != "close" {
		t.Fatalf("expected close, got %q", st)
	}
}

func TestSendTextErrors(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodPost, "/message/sendText/ghost", map[string]string{"number": "5511999999999", "text": "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	s.do(t, http.MethodPost, "/instance/create", map[string]string{"instanceName": "t1"})

	rec, _ = s.do(t, http.MethodPost, "/message/sendText/t1", map[string]string{"number": "5511999999999"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing text, got %d", rec.Code)
	}

	rec, _ = s.do(t, http.MethodPost, "/message/sendText/t1", map[string]string{"number": "abc", "text": "hi"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad number, got %d", rec.Code)
	}

	rec, body := s.do(t, http.MethodPost, "/message/sendText/t1", map[string]string{"number": "5511999999999", "text": "hi"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 not ready, got %d", rec.Code)
	}
	if body["connected"] != false || body["socketState"] != "closed" || body["status"] != "connecting" {
		t.Fatalf("expected readiness diagnostics, got %v", body)
	}
}

func TestClearAndDelete(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/instance/create", map[string]string{"instanceName": "t1"})
	s.do(t, http.MethodPost, "/instance/create", map[string]string{"instanceName": "t2"})

	rec, body := s.do(t, http.MethodPost, "/instance/clear/t1", nil)
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("clear: %d %v", rec.Code, body)
	}
	rec, _ = s.do(t, http.MethodDelete, "/instance/delete/t2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec, _ = s.do(t, http.MethodPost, "/instance/clear/t1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clearing twice must succeed, got %d", rec.Code)
	}
	if len(s.m.List()) != 0 {
		t.Fatalf("expected no sessions left")
	}
}

func TestListingEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/instance/create", map[string]string{"instanceName": "a"})
	s.do(t, http.MethodPost, "/instance/create", map[string]string{"instanceName": "b"})
	s.dialer.Last().EmitOpen()
	waitUntil(t, "open", func() bool { return s.state(t, "b") == "open" })

	rec, _ := s.do(t, http.MethodGet, "/instance/fetchInstances", nil)
	var fetched []map[string]map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &fetched); err != nil {
		t.Fatal(err)
	}
	if len(fetched) != 2 || fetched[0]["instance"]["instanceName"] != "a" || fetched[1]["instance"]["status"] != "open" {
		t.Fatalf("unexpected fetchInstances %v", fetched)
	}

	rec, _ = s.do(t, http.MethodGet, "/instance/connectedNumbers", nil)
	var numbers []connectedNumber
	if err := json.Unmarshal(rec.Body.Bytes(), &numbers); err != nil {
		t.Fatal(err)
	}
	if len(numbers) != 1 || numbers[0].InstanceName != "b" || numbers[0].PhoneNumber != "5511999999999" {
		t.Fatalf("unexpected connectedNumbers %v", numbers)
	}

	_, body := s.do(t, http.MethodGet, "/instance/b", nil)
	inst := body["instance"].(map[string]interface{})
	if inst["integration"] != IntegrationTag || inst["profileName"] != "Test" || inst["phoneNumber"] != "5511999999999" {
		t.Fatalf("unexpected detail %v", inst)
	}
	rec, _ = s.do(t, http.MethodGet, "/instance/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	_, body = s.do(t, http.MethodGet, "/instance/diagnose/a", nil)
	if body["registered"] != true || body["recommendation"] == "" {
		t.Fatalf("unexpected diagnosis %v", body)
	}

	_, body = s.do(t, http.MethodGet, "/webhook/find/a", nil)
	if body["enabled"] != true || body["url"] != "https://hooks.example.com/wa" {
		t.Fatalf("unexpected webhook %v", body)
	}
}

func TestCleanup(t *testing.T) {
	s := newTestServer(t)
	for _, name := range []string{"client_1", "client-1-old", "client_2"} {
		s.do(t, http.MethodPost, "/instance/create", map[string]string{"instanceName": name})
	}

	rec, body := s.do(t, http.MethodPost, "/instance/cleanup", nil)
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("cleanup: %d %v", rec.Code, body)
	}
	if body["cleaned"] != float64(1) || body["kept"] != float64(1) {
		t.Fatalf("unexpected counts %v", body)
	}
	details := body["details"].(map[string]interface{})
	if kept := details["kept"].([]interface{}); len(kept) != 1 || kept[0] != "client-1-old" {
		t.Fatalf("expected client-1-old kept by name order, got %v", kept)
	}
}

func TestHealthAndPingArePublic(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/instance/create", map[string]string{"instanceName": "t1"})

	for _, path := range []string{"/ping", "/health"} {
		rec := httptest.NewRecorder()
		s.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Instances.Total != 1 || health.Instances.Connecting != 1 || len(health.Details) != 1 {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestRoutesRequireAPIKey(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instance/fetchInstances", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Error || body.Status != http.StatusUnauthorized || body.Code != "UNAUTHORIZED" {
		t.Fatalf("unexpected error body %+v", body)
	}
}
