package broadcast

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"obscore/internal/protocol"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer() *Server {
	return New(discardLogger(), nil)
}

func TestUpsertSlaveStatusFromStateReport(t *testing.T) {
	s := newTestServer()
	s.clientInfo["peer:1"] = ClientInfo{IP: "peer", ConnectedAt: time.Now(), LastActivity: time.Now()}

	env, err := protocol.NewStateReport(protocol.StateReportPayload{
		IsSynced: false,
		DesyncDetails: []protocol.DesyncDetail{
			{Category: "SceneMismatch", Message: "Current scene mismatch: local='Cam2', expected='Cam1'"},
		},
	})
	if err != nil {
		t.Fatalf("NewStateReport: %v", err)
	}

	s.upsertSlaveStatus("peer:1", env)

	statuses := s.SlaveStatuses()
	got, ok := statuses["peer:1"]
	if !ok {
		t.Fatalf("expected slave status to be recorded")
	}
	if got.IsSynced {
		t.Fatalf("expected IsSynced=false")
	}
	if len(got.DesyncDetails) != 1 || got.DesyncDetails[0].Category != "SceneMismatch" {
		t.Fatalf("unexpected desync details: %+v", got.DesyncDetails)
	}
}

func TestTouchActivityUpdatesLastActivity(t *testing.T) {
	s := newTestServer()
	then := time.Now().Add(-time.Hour)
	s.clientInfo["peer:1"] = ClientInfo{IP: "peer", ConnectedAt: then, LastActivity: then}

	s.touchActivity("peer:1")

	info := s.ClientsInfo()["peer:1"]
	if !info.LastActivity.After(then) {
		t.Fatalf("expected last_activity to advance")
	}
}

func TestRemoveClientClearsAllThreeMaps(t *testing.T) {
	s := newTestServer()
	c := &client{id: "peer:1", send: make(chan []byte, 1), logger: s.logger}
	now := time.Now()
	s.clients["peer:1"] = c
	s.clientInfo["peer:1"] = ClientInfo{IP: "peer", ConnectedAt: now, LastActivity: now}
	s.slaveStatuses["peer:1"] = SlaveStatus{IsSynced: true, LastReportTime: now}

	s.removeClient(c)

	if len(s.clients) != 0 || len(s.clientInfo) != 0 || len(s.slaveStatuses) != 0 {
		t.Fatalf("expected all three maps empty after removal")
	}
}

func TestCountReflectsRegistrySize(t *testing.T) {
	s := newTestServer()
	if s.Count() != 0 {
		t.Fatalf("expected empty registry to count 0")
	}
	s.clients["a"] = &client{id: "a", send: make(chan []byte, 1)}
	s.clients["b"] = &client{id: "b", send: make(chan []byte, 1)}
	if s.Count() != 2 {
		t.Fatalf("expected count 2, got %d", s.Count())
	}
}
