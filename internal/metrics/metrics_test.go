package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()

	m.PostsIngested.WithLabelValues("social").Inc()
	m.PostsIngested.WithLabelValues("social").Inc()
	m.PostsIngested.WithLabelValues("news").Inc()

	if got := testutil.ToFloat64(m.PostsIngested.WithLabelValues("social")); got != 2 {
		t.Errorf("expected 2 social posts, got %v", got)
	}
	if got := testutil.ToFloat64(m.PostsIngested.WithLabelValues("news")); got != 1 {
		t.Errorf("expected 1 news post, got %v", got)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	m := New()
	m.Assignments.WithLabelValues("created").Inc()
	m.IncidentsOpen.Set(3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "unrest_cluster_assignments_total") {
		t.Errorf("expected assignments counter in output, got:\n%s", body)
	}
	if !strings.Contains(body, "unrest_incidents_open 3") {
		t.Errorf("expected open incidents gauge in output, got:\n%s", body)
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a := New()
	b := New()

	a.StoreConflicts.Inc()

	if got := testutil.ToFloat64(b.StoreConflicts); got != 0 {
		t.Errorf("expected fresh instance at 0, got %v", got)
	}
}
