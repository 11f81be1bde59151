package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Unidata/LDM-sub012/internal/subscription"
)

func TestHealthEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New("127.0.0.1:0", reg, subscription.NewManager(), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok=true, got %+v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request ID middleware to set a header")
	}
}

func TestPeersEndpointListsRegisteredPeers(t *testing.T) {
	reg := prometheus.NewRegistry()
	mgr := subscription.NewManager()
	s := New("127.0.0.1:0", reg, mgr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	mgr.Register(ctx, "peer.example:388", 0x1, nil, subscription.RoleUpstream, subscription.ModePrimary,
		func(workerCtx context.Context, p *subscription.Peer) {
			<-workerCtx.Done()
			close(done)
		})

	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var body struct {
		Peers []struct {
			Address string `json:"Address"`
		} `json:"peers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Peers) != 1 || body.Peers[0].Address != "peer.example:388" {
		t.Fatalf("unexpected peers payload: %+v", body.Peers)
	}

	cancel()
	<-done
}

func TestNotFoundReturnsJSON(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New("127.0.0.1:0", reg, subscription.NewManager(), nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
