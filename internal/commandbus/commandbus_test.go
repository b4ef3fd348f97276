package commandbus

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

func TestSetAppModeDefaultsToNone(t *testing.T) {
	b := New(discardLogger(), nil, nil)
	if b.GetAppMode() != ModeNone {
		t.Fatalf("expected default mode none, got %s", b.GetAppMode())
	}
	if err := b.SetAppMode(ModeMaster); err != nil {
		t.Fatalf("SetAppMode: %v", err)
	}
	if b.GetAppMode() != ModeMaster {
		t.Fatalf("expected mode master after SetAppMode")
	}
}

func TestStartMasterServerRequiresMasterMode(t *testing.T) {
	b := New(discardLogger(), nil, nil)
	err := b.StartMasterServer(nil, MasterConfig{Port: 8080})
	if err == nil {
		t.Fatalf("expected LifecycleError when mode is not Master")
	}
}

func TestStartMasterServerRequiresObsConnection(t *testing.T) {
	b := New(discardLogger(), nil, nil)
	if err := b.SetAppMode(ModeMaster); err != nil {
		t.Fatalf("SetAppMode: %v", err)
	}
	err := b.StartMasterServer(nil, MasterConfig{Port: 8080})
	if err == nil {
		t.Fatalf("expected LifecycleError when BC-API is not connected")
	}
}

func TestGetConnectedClientsCountRequiresRunningServer(t *testing.T) {
	b := New(discardLogger(), nil, nil)
	if _, err := b.GetConnectedClientsCount(); err == nil {
		t.Fatalf("expected LifecycleError when no master server is running")
	}
}

func TestResyncSpecificSlaveRequiresRunningServer(t *testing.T) {
	b := New(discardLogger(), nil, nil)
	if err := b.ResyncSpecificSlave(nil, "peer:1"); err == nil {
		t.Fatalf("expected LifecycleError when no master server is running")
	}
}
