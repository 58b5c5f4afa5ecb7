package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"nephrogo-edge/internal/metrics"
)

func TestMetricsMiddleware_IncrementsCounter(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/static/css/admin.css", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/static/css/admin.css", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "nephrogo_edge_http_requests_total" {
			for _, metric := range f.GetMetric() {
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == "path_prefix" && lp.GetValue() == "/static" {
						found = true
						if v := metric.GetCounter().GetValue(); v != 1 {
							t.Errorf("counter value = %v, want 1", v)
						}
					}
				}
			}
		}
	}
	if !found {
		t.Error("expected nephrogo_edge_http_requests_total with path_prefix=/static")
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "nephrogo_edge_http_request_duration_seconds" {
			for _, metric := range f.GetMetric() {
				if metric.GetHistogram().GetSampleCount() > 0 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected nephrogo_edge_http_request_duration_seconds with at least one sample")
	}
}

func TestMetricsMiddleware_HTTPErrorStatus(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/static/missing.css", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})

	req := httptest.NewRequest(http.MethodGet, "/static/missing.css", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	for _, f := range families {
		if f.GetName() == "nephrogo_edge_http_requests_total" {
			for _, metric := range f.GetMetric() {
				labels := make(map[string]string)
				for _, lp := range metric.GetLabel() {
					labels[lp.GetName()] = lp.GetValue()
				}
				if labels["path_prefix"] == "/static" {
					if labels["status_code"] != "404" {
						t.Errorf("status_code = %q, want %q", labels["status_code"], "404")
					}
					return
				}
			}
		}
	}
	t.Error("expected nephrogo_edge_http_requests_total with path_prefix=/static")
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Any("/static/x", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest("XYZZY", "/static/x", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	for _, f := range families {
		if f.GetName() == "nephrogo_edge_http_requests_total" {
			for _, metric := range f.GetMetric() {
				labels := make(map[string]string)
				for _, lp := range metric.GetLabel() {
					labels[lp.GetName()] = lp.GetValue()
				}
				if labels["path_prefix"] == "/static" {
					if labels["method"] != "other" {
						t.Errorf("method = %q, want %q", labels["method"], "other")
					}
					return
				}
			}
		}
	}
	t.Error("expected nephrogo_edge_http_requests_total with path_prefix=/static and method=other")
}

func TestMetricsMiddleware_DroppedHostNotCountedAsRequest(t *testing.T) {
	m := metrics.New()

	// Same ordering as the server: metrics outside the host gate, so drops
	// traverse the middleware but land only in the rejected-hosts counter.
	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Use(HostGate(newGateStore("api.nephrogo.com"), slog.New(slog.NewTextHandler(io.Discard, nil)), m))
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Host = "scanner.example.net"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != StatusConnectionClosed {
		t.Fatalf("status = %d, want %d", rec.Code, StatusConnectionClosed)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	rejected := 0.0
	for _, f := range families {
		switch f.GetName() {
		case "nephrogo_edge_http_requests_total":
			for _, metric := range f.GetMetric() {
				t.Errorf("dropped connection counted as request: %v", metric.GetLabel())
			}
		case "nephrogo_edge_rejected_hosts_total":
			for _, metric := range f.GetMetric() {
				rejected = metric.GetCounter().GetValue()
			}
		}
	}
	if rejected != 1 {
		t.Errorf("rejected_hosts_total = %v, want 1", rejected)
	}
}

func TestMetricsMiddleware_DynamicPathLabeledUpstream(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/v1/user/profile/", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/user/profile/", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	for _, f := range families {
		if f.GetName() == "nephrogo_edge_http_requests_total" {
			for _, metric := range f.GetMetric() {
				labels := make(map[string]string)
				for _, lp := range metric.GetLabel() {
					labels[lp.GetName()] = lp.GetValue()
				}
				if labels["path_prefix"] == "upstream" && labels["method"] == "GET" {
					if labels["status_code"] != "200" {
						t.Errorf("status_code = %q, want %q", labels["status_code"], "200")
					}
					return
				}
			}
		}
	}
	t.Error("expected nephrogo_edge_http_requests_total with path_prefix=upstream, method=GET, status_code=200")
}
