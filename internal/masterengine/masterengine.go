// Package masterengine turns BC-API events into outbound protocol messages
// and builds the full-snapshot StateSync sent to newly joined slaves.
//
// Grounded on original_source/src-tauri/src/sync/master.rs's MasterSync:
// the same event-to-message mapping, and a send_initial_state walk extended
// to enumerate every scene (see DESIGN.md), reworked onto Go channels and goroutines in place of tokio tasks.
package masterengine

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"obscore/internal/bcapi"
	"obscore/internal/protocol"
	"obscore/pkg/logging"
)

// imageInputKinds lists the BC-API input_kind values treated as image
// sources for the purposes of ImageUpdate/StateSync image inlining.
var imageInputKinds = map[string]bool{
	"image_source": true,
}

// Engine watches a BC-API event stream and produces outbound protocol
// envelopes on Outbound. Zero value is not usable; construct with New.
type Engine struct {
	obs    *bcapi.Client
	logger logging.Logger

	mu            sync.RWMutex
	activeTargets map[protocol.TargetType]bool

	outbound chan protocol.Envelope
}

// New constructs an Engine with the default active target set (Program and
// Source), matching the original implementation's startup defaults.
func New(obs *bcapi.Client, logger logging.Logger) *Engine {
	return &Engine{
		obs:    obs,
		logger: logger,
		activeTargets: map[protocol.TargetType]bool{
			protocol.TargetProgram: true,
			protocol.TargetSource:  true,
		},
		outbound: make(chan protocol.Envelope, 256),
	}
}

// Outbound is the channel the broadcast server drains.
func (e *Engine) Outbound() <-chan protocol.Envelope { return e.outbound }

// SetActiveTargets atomically replaces the set of target types this engine
// emits messages for. In-flight messages already enqueued are not retracted.
func (e *Engine) SetActiveTargets(targets []protocol.TargetType) {
	next := make(map[protocol.TargetType]bool, len(targets))
	for _, t := range targets {
		next[t] = true
	}
	e.mu.Lock()
	e.activeTargets = next
	e.mu.Unlock()
}

func (e *Engine) targetActive(t protocol.TargetType) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeTargets[t]
}

// StartMonitoring spawns the event-consumer goroutine. It returns
// immediately; the goroutine runs until ctx is cancelled or events closes.
func (e *Engine) StartMonitoring(ctx context.Context, events <-chan bcapi.Event) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				e.handleEvent(ctx, ev)
			}
		}
	}()
}

func (e *Engine) handleEvent(ctx context.Context, ev bcapi.Event) {
	switch ev.Kind {
	case bcapi.CurrentProgramSceneChanged:
		if !e.targetActive(protocol.TargetProgram) {
			return
		}
		env, err := protocol.NewSceneChange(protocol.TargetProgram, ev.SceneName)
		e.enqueue(env, err)

	case bcapi.CurrentPreviewSceneChanged:
		if !e.targetActive(protocol.TargetPreview) {
			return
		}
		env, err := protocol.NewSceneChange(protocol.TargetPreview, ev.SceneName)
		e.enqueue(env, err)

	case bcapi.SceneItemTransformChanged:
		if !e.targetActive(protocol.TargetSource) {
			return
		}
		go e.fetchTransformAndSend(ctx, ev.SceneName, ev.ItemID)

	case bcapi.InputSettingsChanged:
		if !e.targetActive(protocol.TargetSource) {
			return
		}
		go e.fetchImageAndSend(ctx, ev.InputName)

	case bcapi.SceneItemFilterChanged:
		if !e.targetActive(protocol.TargetSource) {
			return
		}
		go e.fetchFilterAndSend(ctx, ev.SceneName, ev.ItemID, ev.FilterName)
	}
}

func (e *Engine) fetchTransformAndSend(ctx context.Context, scene string, itemID int64) {
	t, err := e.obs.Transform(ctx, scene, itemID)
	if err != nil {
		e.logger.WithError(err).WithFields(logging.Fields{"scene_name": scene, "scene_item_id": itemID}).
			Warn("failed to fetch transform for TransformUpdate, dropping message")
		return
	}
	env, err := protocol.NewTransformUpdate(scene, itemID, protocol.Transform{
		PositionX: t.PositionX, PositionY: t.PositionY, Rotation: t.Rotation,
		ScaleX: t.ScaleX, ScaleY: t.ScaleY, Width: t.Width, Height: t.Height,
	})
	e.enqueue(env, err)
}

func (e *Engine) fetchImageAndSend(ctx context.Context, inputName string) {
	file, data, err := e.obs.ReadInputImage(ctx, inputName)
	if err != nil {
		e.logger.WithError(err).WithFields(logging.Fields{"source_name": inputName}).
			Warn("failed to read image for ImageUpdate, dropping message")
		return
	}
	if data == nil {
		// No file configured on this input: §4.C says skip, not emit an
		// empty ImageUpdate.
		return
	}
	encoded := bcapi.EncodeImageBase64(data)
	env, err := protocol.NewImageUpdate("", inputName, file, &encoded)
	e.enqueue(env, err)
}

func (e *Engine) fetchFilterAndSend(ctx context.Context, scene string, itemID int64, filterName string) {
	sourceName, err := e.resolveSourceName(ctx, scene, itemID)
	if err != nil {
		e.logger.WithError(err).WithFields(logging.Fields{"scene_name": scene, "scene_item_id": itemID}).
			Warn("failed to resolve source_name for FilterUpdate, dropping message")
		return
	}

	filters, err := e.obs.ListFilters(ctx, sourceName)
	if err != nil {
		e.logger.WithError(err).WithFields(logging.Fields{"source_name": sourceName}).
			Warn("failed to fetch filters for FilterUpdate, dropping message")
		return
	}

	var settings map[string]interface{}
	for _, f := range filters {
		if f.Name == filterName {
			settings = f.Settings
			break
		}
	}

	env, err := protocol.NewFilterUpdate(protocol.FilterUpdatePayload{
		SceneName:      scene,
		SceneItemID:    itemID,
		SourceName:     sourceName,
		FilterName:     filterName,
		FilterSettings: settings,
	})
	e.enqueue(env, err)
}

func (e *Engine) resolveSourceName(ctx context.Context, scene string, itemID int64) (string, error) {
	items, err := e.obs.ListItems(ctx, scene)
	if err != nil {
		return "", err
	}
	for _, item := range items {
		if item.ID == itemID {
			return item.SourceName, nil
		}
	}
	return "", fmt.Errorf("scene item %d not found in scene %s", itemID, scene)
}

func (e *Engine) enqueue(env protocol.Envelope, err error) {
	if err != nil {
		e.logger.WithError(err).Warn("failed to build outbound envelope, dropping message")
		return
	}
	select {
	case e.outbound <- env:
	default:
		e.logger.Warn("outbound channel full, dropping message")
	}
}

// SendInitialState builds a full StateSync snapshot and enqueues exactly one
// StateSync envelope, per §4.C. Per-item read failures are logged and leave
// that item's optional field nil; the snapshot is still sent.
func (e *Engine) SendInitialState(ctx context.Context) error {
	programScene, err := e.obs.CurrentProgramScene(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("failed to fetch current program scene for StateSync")
		return err
	}

	var previewScene *string
	if name, err := e.obs.CurrentPreviewScene(ctx); err != nil {
		e.logger.WithError(err).Debug("no preview scene available for StateSync (studio mode may be off)")
	} else {
		previewScene = &name
	}

	sceneNames, err := e.obs.ListScenes(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("failed to list scenes for StateSync")
		return err
	}

	scenes := make([]protocol.SceneSnapshot, 0, len(sceneNames))
	for _, sceneName := range sceneNames {
		scenes = append(scenes, e.buildSceneSnapshot(ctx, sceneName))
	}

	env, err := protocol.NewStateSync(protocol.StateSyncPayload{
		CurrentProgramScene: programScene,
		CurrentPreviewScene: previewScene,
		Scenes:              scenes,
	})
	if err != nil {
		return err
	}

	select {
	case e.outbound <- env:
	default:
		e.logger.Warn("outbound channel full, dropping StateSync")
	}
	return nil
}

func (e *Engine) buildSceneSnapshot(ctx context.Context, sceneName string) protocol.SceneSnapshot {
	items, err := e.obs.ListItems(ctx, sceneName)
	if err != nil {
		e.logger.WithError(err).WithFields(logging.Fields{"scene_name": sceneName}).
			Warn("failed to list items for StateSync, scene sent with no items")
		return protocol.SceneSnapshot{Name: sceneName}
	}

	snapshotItems := make([]protocol.ItemSnapshot, 0, len(items))
	for _, item := range items {
		snapshotItems = append(snapshotItems, e.buildItemSnapshot(ctx, sceneName, item))
	}
	return protocol.SceneSnapshot{Name: sceneName, Items: snapshotItems}
}

func (e *Engine) buildItemSnapshot(ctx context.Context, sceneName string, item bcapi.Item) protocol.ItemSnapshot {
	snap := protocol.ItemSnapshot{
		SourceName:  item.SourceName,
		SceneItemID: item.ID,
		SourceType:  item.InputKind,
	}

	if t, err := e.obs.Transform(ctx, sceneName, item.ID); err != nil {
		e.logger.WithError(err).WithFields(logging.Fields{"scene_name": sceneName, "source_name": item.SourceName}).
			Warn("failed to fetch transform for StateSync item")
	} else {
		snap.Transform = &protocol.Transform{
			PositionX: t.PositionX, PositionY: t.PositionY, Rotation: t.Rotation,
			ScaleX: t.ScaleX, ScaleY: t.ScaleY, Width: t.Width, Height: t.Height,
		}
	}

	if filters, err := e.obs.ListFilters(ctx, item.SourceName); err != nil {
		e.logger.WithError(err).WithFields(logging.Fields{"source_name": item.SourceName}).
			Warn("failed to fetch filters for StateSync item")
	} else {
		snap.Filters = make([]protocol.FilterSnapshot, 0, len(filters))
		for _, f := range filters {
			snap.Filters = append(snap.Filters, protocol.FilterSnapshot{
				Name: f.Name, Enabled: f.Enabled, Settings: f.Settings,
			})
		}
	}

	if imageInputKinds[strings.ToLower(item.InputKind)] {
		if file, data, err := e.obs.ReadInputImage(ctx, item.SourceName); err != nil {
			e.logger.WithError(err).WithFields(logging.Fields{"source_name": item.SourceName}).
				Warn("failed to read image for StateSync item")
		} else if data != nil {
			snap.ImageData = &protocol.ImageSnapshot{
				File: file,
				Data: base64.StdEncoding.EncodeToString(data),
			}
		}
	}

	return snap
}
