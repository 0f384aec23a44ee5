package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_RecordsRouteTemplate(t *testing.T) {
	e := echo.New()
	e.Use(Middleware())
	e.GET("/api/v1/measures/:id/evaluate", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "busy")
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/measures/:id/evaluate", "200"))
	for _, id := range []string{"unit-occupancy", "length-of-stay"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/measures/"+id+"/evaluate", nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/measures/:id/evaluate", "200"))
	if after-before != 2 {
		t.Errorf("expected 2 requests under one route label, got %v", after-before)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/fail", "409")); got != 1 {
		t.Errorf("expected HTTPError code as status label, got %v", got)
	}
}

func TestBatchHelpers(t *testing.T) {
	before := testutil.ToFloat64(eventsDropped.WithLabelValues("duplicates"))
	RecordEventsDropped("duplicates", 0)
	RecordEventsDropped("duplicates", 3)
	if got := testutil.ToFloat64(eventsDropped.WithLabelValues("duplicates")) - before; got != 3 {
		t.Errorf("expected 3 dropped events, got %v", got)
	}

	before = testutil.ToFloat64(eventsReordered)
	RecordEventsReordered(0)
	RecordEventsReordered(2)
	if got := testutil.ToFloat64(eventsReordered) - before; got != 2 {
		t.Errorf("expected 2 reordered events, got %v", got)
	}

	RecordRun(2*time.Second, 42.5)
	if got := testutil.ToFloat64(censusPatientHours); got != 42.5 {
		t.Errorf("expected patient hours gauge 42.5, got %v", got)
	}

	before = testutil.ToFloat64(encountersProcessed.WithLabelValues("rejected"))
	RecordEncounter("rejected")
	if got := testutil.ToFloat64(encountersProcessed.WithLabelValues("rejected")) - before; got != 1 {
		t.Errorf("expected one rejected encounter, got %v", got)
	}
}

func TestHandler_Exposition(t *testing.T) {
	RecordStay("complete")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "census_stays_derived_total") {
		t.Error("expected stay counter in exposition")
	}
}
