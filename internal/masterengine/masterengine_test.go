package masterengine

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"obscore/internal/protocol"
	"obscore/pkg/logging"
)

func discardLogger() logging.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestSetActiveTargetsReplacesSet(t *testing.T) {
	e := New(nil, nil)
	if !e.targetActive(protocol.TargetProgram) || !e.targetActive(protocol.TargetSource) {
		t.Fatalf("expected default targets to include program and source")
	}

	e.SetActiveTargets([]protocol.TargetType{protocol.TargetPreview})
	if e.targetActive(protocol.TargetProgram) {
		t.Fatalf("expected program to no longer be active after replacement")
	}
	if !e.targetActive(protocol.TargetPreview) {
		t.Fatalf("expected preview to be active after replacement")
	}
}

func TestEnqueueDropsOnFullChannel(t *testing.T) {
	e := New(nil, discardLogger())
	e.outbound = make(chan protocol.Envelope) // unbuffered, always full without a reader

	env, err := protocol.NewHeartbeat()
	if err != nil {
		t.Fatalf("NewHeartbeat: %v", err)
	}
	// Should not block even though nothing drains e.outbound.
	e.enqueue(env, nil)
}
