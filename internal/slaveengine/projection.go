package slaveengine

import (
	"sync"

	"obscore/internal/protocol"
)

// Projection is the slave's expected-state value, maintained by applying
// incoming messages before the corresponding BC-API mutation (§4.E.c). Only
// SceneChange and StateSync update it; everything else is a no-op, which is
// a deliberate extension point rather than an oversight.
type Projection struct {
	mu           sync.RWMutex
	currentScene string
	scenes       map[string]protocol.SceneSnapshot
}

// NewProjection returns an empty projection.
func NewProjection() *Projection {
	return &Projection{scenes: make(map[string]protocol.SceneSnapshot)}
}

// ApplySceneChange updates the expected current scene.
func (p *Projection) ApplySceneChange(sceneName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentScene = sceneName
}

// ApplyStateSync replaces the full expected snapshot.
func (p *Projection) ApplyStateSync(payload protocol.StateSyncPayload) {
	scenes := make(map[string]protocol.SceneSnapshot, len(payload.Scenes))
	for _, s := range payload.Scenes {
		scenes[s.Name] = s
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentScene = payload.CurrentProgramScene
	p.scenes = scenes
}

// Snapshot is a read-only view used by the drift detector.
type Snapshot struct {
	CurrentScene string
	Scenes       map[string]protocol.SceneSnapshot
	Empty        bool
}

// Snapshot returns a copy of the current projection. Empty is true when no
// message has populated the projection yet (the drift detector skips the
// tick in that case).
func (p *Projection) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.currentScene == "" && len(p.scenes) == 0 {
		return Snapshot{Empty: true}
	}
	scenes := make(map[string]protocol.SceneSnapshot, len(p.scenes))
	for k, v := range p.scenes {
		scenes[k] = v
	}
	return Snapshot{CurrentScene: p.currentScene, Scenes: scenes}
}
