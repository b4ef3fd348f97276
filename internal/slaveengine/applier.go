// Package slaveengine implements the slave half of the replication
// pipeline: the reconnecting connection supervisor, the message applier
// that mutates the local BC-API session, the expected-state projection,
// and the drift detector/reporter.
//
// Grounded on original_source/src-tauri/src/sync/slave.rs's SlaveSync for
// the dispatch shape and the reconnection/backoff loop, reworked onto
// goroutines and channels, and on _teacher_api_realtime's structured-logging
// and metrics idiom for observability.
package slaveengine

import (
	"context"
	"encoding/base64"
	"fmt"

	"obscore/internal/bcapi"
	"obscore/internal/protocol"
	"obscore/pkg/logging"
)

// AlertSeverity mirrors §7's DesyncAlert severities.
type AlertSeverity string

const (
	SeverityError   AlertSeverity = "error"
	SeverityWarning AlertSeverity = "warning"
)

// Alert is a desync-alert event (§7, §8 scenario 5).
type Alert struct {
	Severity AlertSeverity
	Message  string
}

// AlertFunc receives alerts as they're raised. Called synchronously from
// whichever goroutine detects the condition; implementations must not block.
type AlertFunc func(Alert)

// Applier consumes envelopes in arrival order and applies each one's
// mutation to the BC-API, updating the projection first (§4.E, P4).
type Applier struct {
	obs           *bcapi.Client
	projection    *Projection
	imageCacheDir string
	alert         AlertFunc
	logger        logging.Logger
}

// NewApplier constructs an Applier. cacheDir is where decoded ImageUpdate
// payloads are cached before being handed back to the BC-API as a file path.
func NewApplier(obs *bcapi.Client, projection *Projection, cacheDir string, alert AlertFunc, logger logging.Logger) *Applier {
	return &Applier{obs: obs, projection: projection, imageCacheDir: cacheDir, alert: alert, logger: logger}
}

// Apply dispatches one envelope by message_type. BC-API errors are logged
// and raise a DesyncAlert (severity Error); the applier never retries and
// never aborts because of one failed mutation.
func (a *Applier) Apply(ctx context.Context, env protocol.Envelope) {
	switch env.MessageType {
	case protocol.SceneChange:
		a.applySceneChange(ctx, env)
	case protocol.TransformUpdate:
		a.applyTransformUpdate(ctx, env)
	case protocol.ImageUpdate:
		a.applyImageUpdate(ctx, env)
	case protocol.FilterUpdate:
		a.applyFilterUpdate(ctx, env)
	case protocol.SourceUpdate:
		a.applySourceUpdate(ctx, env)
	case protocol.StateSync:
		a.applyStateSync(ctx, env)
	case protocol.StateSyncRequest, protocol.StateReport:
		// Reserved for master; ignored on the slave side.
	case protocol.Heartbeat:
		// No-op.
	default:
		a.logger.WithFields(logging.Fields{"message_type": env.MessageType}).
			Warn("unknown message_type, skipping")
	}
}

func (a *Applier) fail(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	a.logger.WithFields(logging.Fields{"reason": msg}).Warn("apply failed")
	if a.alert != nil {
		a.alert(Alert{Severity: SeverityError, Message: msg})
	}
}

func (a *Applier) applySceneChange(ctx context.Context, env protocol.Envelope) {
	payload, err := env.AsScenePayload()
	if err != nil {
		a.fail("malformed SceneChange payload: %v", err)
		return
	}
	a.projection.ApplySceneChange(payload.SceneName)
	if err := a.obs.SetCurrentProgramScene(ctx, payload.SceneName); err != nil {
		a.fail("set_current_program_scene(%s): %v", payload.SceneName, err)
	}
}

func (a *Applier) applyTransformUpdate(ctx context.Context, env protocol.Envelope) {
	payload, err := env.AsTransformUpdatePayload()
	if err != nil {
		a.fail("malformed TransformUpdate payload: %v", err)
		return
	}
	a.applyTransformToItem(ctx, payload.SceneName, payload.SceneItemID, payload.Transform)
}

// applyTransformToItem reads the current transform and overwrites only the
// scalar fields the wire payload carries; width/height/cropping are left as
// they were (§4.E.b, §8 boundary law).
func (a *Applier) applyTransformToItem(ctx context.Context, scene string, itemID int64, incoming protocol.Transform) {
	current, err := a.obs.Transform(ctx, scene, itemID)
	if err != nil {
		a.fail("fetch transform for item %d in %s: %v", itemID, scene, err)
		return
	}
	next := bcapi.TransformValues{
		PositionX: incoming.PositionX,
		PositionY: incoming.PositionY,
		Rotation:  incoming.Rotation,
		ScaleX:    incoming.ScaleX,
		ScaleY:    incoming.ScaleY,
		Width:     current.Width,
		Height:    current.Height,
	}
	if err := a.obs.SetTransform(ctx, scene, itemID, next); err != nil {
		a.fail("set_transform for item %d in %s: %v", itemID, scene, err)
	}
}

func (a *Applier) applyImageUpdate(ctx context.Context, env protocol.Envelope) {
	payload, err := env.AsImageUpdatePayload()
	if err != nil {
		a.fail("malformed ImageUpdate payload: %v", err)
		return
	}
	a.applyImagePayload(ctx, payload)
}

// applyImagePayload is shared by the standalone ImageUpdate dispatch and the
// per-item walk inside applyStateSync. A nil ImageData is a no-op, per §8's
// boundary law.
func (a *Applier) applyImagePayload(ctx context.Context, payload protocol.ImageUpdatePayload) {
	if payload.ImageData == nil {
		return
	}
	data, err := base64.StdEncoding.DecodeString(*payload.ImageData)
	if err != nil {
		a.fail("decode image_data for %s: %v", payload.SourceName, err)
		return
	}
	ext := sniffExtension(payload.File, data)
	path, err := writeImageCacheFile(a.imageCacheDir, payload.SourceName, data, ext)
	if err != nil {
		a.fail("cache image for %s: %v", payload.SourceName, err)
		return
	}
	err = a.obs.SetInputSettings(ctx, payload.SourceName, map[string]interface{}{"file": path}, true)
	if err != nil {
		a.fail("set_input_settings(%s): %v", payload.SourceName, err)
	}
}

func (a *Applier) applyFilterUpdate(ctx context.Context, env protocol.Envelope) {
	payload, err := env.AsFilterUpdatePayload()
	if err != nil {
		a.fail("malformed FilterUpdate payload: %v", err)
		return
	}
	a.applyFilterPayload(ctx, payload)
}

func (a *Applier) applyFilterPayload(ctx context.Context, payload protocol.FilterUpdatePayload) {
	err := a.obs.SetFilterSettings(ctx, payload.SourceName, payload.FilterName, payload.FilterSettings, true)
	if err != nil {
		a.fail("set_filter_settings(%s, %s): %v", payload.SourceName, payload.FilterName, err)
	}
}

func (a *Applier) applySourceUpdate(ctx context.Context, env protocol.Envelope) {
	payload, err := env.AsSourceUpdatePayload()
	if err != nil {
		a.fail("malformed SourceUpdate payload: %v", err)
		return
	}

	switch payload.Action {
	case protocol.ActionCreated:
		enabled := true
		if payload.SceneItemEnabled != nil {
			enabled = *payload.SceneItemEnabled
		}
		id, err := a.obs.CreateItem(ctx, payload.SceneName, payload.SourceName, enabled)
		if err != nil {
			a.fail("create_item(%s, %s): %v", payload.SceneName, payload.SourceName, err)
			return
		}
		if payload.Transform != nil {
			a.applyTransformToItem(ctx, payload.SceneName, id, *payload.Transform)
		}

	case protocol.ActionRemoved:
		if err := a.obs.RemoveItem(ctx, payload.SceneName, payload.SceneItemID); err != nil {
			a.fail("remove_item(%s, %d): %v", payload.SceneName, payload.SceneItemID, err)
		}

	case protocol.ActionEnabledStateChanged:
		enabled := payload.SceneItemEnabled != nil && *payload.SceneItemEnabled
		if err := a.obs.SetItemEnabled(ctx, payload.SceneName, payload.SceneItemID, enabled); err != nil {
			a.fail("set_item_enabled(%s, %d): %v", payload.SceneName, payload.SceneItemID, err)
		}

	case protocol.ActionSettingsChanged:
		a.logger.WithFields(logging.Fields{
			"scene_name":  payload.SceneName,
			"source_name": payload.SourceName,
		}).Info("source settings changed (log-only)")
	}
}

func (a *Applier) applyStateSync(ctx context.Context, env protocol.Envelope) {
	payload, err := env.AsStateSyncPayload()
	if err != nil {
		a.fail("malformed StateSync payload: %v", err)
		return
	}
	a.projection.ApplyStateSync(payload)

	for _, scene := range payload.Scenes {
		for _, item := range scene.Items {
			if item.Transform != nil {
				a.applyTransformToItem(ctx, scene.Name, item.SceneItemID, *item.Transform)
			}
			if item.ImageData != nil {
				data := item.ImageData.Data
				a.applyImagePayload(ctx, protocol.ImageUpdatePayload{
					SceneName:  scene.Name,
					SourceName: item.SourceName,
					File:       item.ImageData.File,
					ImageData:  &data,
				})
			}
			for _, filter := range item.Filters {
				a.applyFilterPayload(ctx, protocol.FilterUpdatePayload{
					SceneName:      scene.Name,
					SceneItemID:    item.SceneItemID,
					SourceName:     item.SourceName,
					FilterName:     filter.Name,
					FilterSettings: filter.Settings,
				})
				if err := a.obs.SetFilterEnabled(ctx, item.SourceName, filter.Name, filter.Enabled); err != nil {
					a.fail("set_filter_enabled(%s, %s): %v", item.SourceName, filter.Name, err)
				}
			}
		}
	}

	if err := a.obs.SetCurrentProgramScene(ctx, payload.CurrentProgramScene); err != nil {
		a.fail("set_current_program_scene(%s): %v", payload.CurrentProgramScene, err)
	}

	if payload.CurrentPreviewScene != nil {
		if err := a.obs.SetCurrentPreviewScene(ctx, *payload.CurrentPreviewScene); err != nil {
			a.logger.WithError(err).Warn("failed to set preview scene from StateSync (studio mode may be off)")
			if a.alert != nil {
				a.alert(Alert{Severity: SeverityWarning, Message: "failed to apply preview scene from state sync"})
			}
		}
	}
}
