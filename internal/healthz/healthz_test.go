package healthz

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct {
	connected bool
	roomLeft  bool
}

func (s *stubChecker) BrokerConnected() bool { return s.connected }
func (s *stubChecker) QueueNotFull() bool    { return s.roomLeft }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReflectsBrokerConnection(t *testing.T) {
	c := &stubChecker{connected: true, roomLeft: true}
	r := Router(c)

	if rec := get(t, r, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", rec.Code)
	}

	c.connected = false
	if rec := get(t, r, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/healthz = %d, want 503 when broker disconnected", rec.Code)
	}
}

func TestReadyzReflectsQueueCapacity(t *testing.T) {
	c := &stubChecker{connected: true, roomLeft: true}
	r := Router(c)

	if rec := get(t, r, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("/readyz = %d, want 200", rec.Code)
	}

	c.roomLeft = false
	if rec := get(t, r, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d, want 503 when queue full", rec.Code)
	}
}
