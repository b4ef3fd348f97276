package slaveengine

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewSupervisorDefaultsMaxAttempts(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Host: "localhost", Port: 8080}, nil, discardLogger())
	if s.cfg.MaxAttempts != DefaultMaxReconnectAttempts {
		t.Fatalf("expected default max attempts %d, got %d", DefaultMaxReconnectAttempts, s.cfg.MaxAttempts)
	}
	if s.Status().MaxAttempts != DefaultMaxReconnectAttempts {
		t.Fatalf("expected status to report default max attempts")
	}
}

func TestDisconnectStopsReconnection(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Host: "localhost", Port: 8080}, nil, discardLogger())
	if !s.reconnectRequested() {
		t.Fatalf("expected reconnect requested by default")
	}
	s.Disconnect()
	if s.reconnectRequested() {
		t.Fatalf("expected reconnect to be disabled after Disconnect")
	}
}

func TestRequestResyncEnqueuesStateSyncRequest(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Host: "localhost", Port: 8080}, nil, discardLogger())
	s.RequestResync()
	select {
	case env := <-s.upstream:
		if env.MessageType != "state_sync_request" {
			t.Fatalf("expected state_sync_request, got %s", env.MessageType)
		}
	default:
		t.Fatalf("expected a queued envelope")
	}
}
