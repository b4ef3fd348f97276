package slaveengine

import (
	"testing"

	"obscore/internal/protocol"
)

func TestProjectionEmptyUntilFirstMessage(t *testing.T) {
	p := NewProjection()
	if !p.Snapshot().Empty {
		t.Fatalf("expected fresh projection to be empty")
	}
}

func TestProjectionSceneChangeSetsCurrentScene(t *testing.T) {
	p := NewProjection()
	p.ApplySceneChange("Camera 2")
	snap := p.Snapshot()
	if snap.Empty {
		t.Fatalf("expected non-empty projection after SceneChange")
	}
	if snap.CurrentScene != "Camera 2" {
		t.Fatalf("expected current_scene Camera 2, got %q", snap.CurrentScene)
	}
}

func TestProjectionStateSyncReplacesScenes(t *testing.T) {
	p := NewProjection()
	p.ApplyStateSync(protocol.StateSyncPayload{
		CurrentProgramScene: "S1",
		Scenes: []protocol.SceneSnapshot{
			{Name: "S1", Items: []protocol.ItemSnapshot{{SourceName: "Cam1"}}},
		},
	})
	snap := p.Snapshot()
	if snap.CurrentScene != "S1" {
		t.Fatalf("expected current_scene S1, got %q", snap.CurrentScene)
	}
	if _, ok := snap.Scenes["S1"]; !ok {
		t.Fatalf("expected scene S1 in projection")
	}
}
