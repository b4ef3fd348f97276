package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthChecker_Basic(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: "healthy"} })
	status := hc.CheckHealth()
	if status.Status != "healthy" {
		t.Fatalf("expected healthy")
	}
}

func TestHealthChecker_Unhealthy(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("bad", func() CheckResult { return CheckResult{Status: "unhealthy"} })
	status := hc.CheckHealth()
	if status.Status != "unhealthy" {
		t.Fatalf("expected unhealthy")
	}
}

func TestHTTPServiceHealthCheck(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) }))
	defer s.Close()
	res := HTTPServiceHealthCheck("svc", s.URL)()
	if res.Status != "healthy" {
		t.Fatalf("expected healthy")
	}
}

func TestConfigurationHealthCheck(t *testing.T) {
	res := ConfigurationHealthCheck(map[string]string{"PORT": "", "HOST": "x"})()
	if res.Status != "unhealthy" {
		t.Fatalf("expected unhealthy for missing config")
	}
}

func TestConnectivityHealthCheck(t *testing.T) {
	ok := ConnectivityHealthCheck("obs", func() error { return nil })()
	if ok.Status != "healthy" {
		t.Fatalf("expected healthy")
	}
	bad := ConnectivityHealthCheck("obs", func() error { return errors.New("refused") })()
	if bad.Status != "unhealthy" {
		t.Fatalf("expected unhealthy")
	}
}
