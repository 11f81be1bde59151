package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersCollectorsAndServesExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.QueueInserts.WithLabelValues("inserted").Inc()
	m.QueueOverruns.WithLabelValues("pqact-a").Inc()
	m.OpenFileDescriptors.Set(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "ldm_queue_inserts_total") {
		t.Fatalf("expected exposition to contain ldm_queue_inserts_total, got:\n%s", body)
	}
	if !strings.Contains(body, "ldm_pqact_open_file_descriptors 3") {
		t.Fatalf("expected open file descriptor gauge value, got:\n%s", body)
	}
}
