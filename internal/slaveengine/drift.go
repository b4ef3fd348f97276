package slaveengine

import (
	"context"
	"fmt"
	"math"
	"time"

	"obscore/internal/bcapi"
	"obscore/internal/protocol"
	"obscore/pkg/logging"
)

const (
	positionTolerance = 0.5
	scaleTolerance    = 0.01
)

// DefaultDriftInterval is the tick period used when configuration doesn't
// override it (§4.E.d).
const DefaultDriftInterval = 5 * time.Second

// DriftDetector periodically compares local BC-API state against the
// slave's expected-state projection and reports the result upstream.
type DriftDetector struct {
	obs        *bcapi.Client
	projection *Projection
	interval   time.Duration
	upstream   chan<- protocol.Envelope
	alert      AlertFunc
	logger     logging.Logger
}

// NewDriftDetector constructs a DriftDetector. upstream is the channel the
// connection supervisor's upstream-send task drains.
func NewDriftDetector(obs *bcapi.Client, projection *Projection, interval time.Duration, upstream chan<- protocol.Envelope, alert AlertFunc, logger logging.Logger) *DriftDetector {
	if interval <= 0 {
		interval = DefaultDriftInterval
	}
	return &DriftDetector{obs: obs, projection: projection, interval: interval, upstream: upstream, alert: alert, logger: logger}
}

// Run blocks, ticking until ctx is cancelled.
func (d *DriftDetector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

type diff struct {
	category   string
	sceneName  string
	sourceName string
	message    string
	severity   AlertSeverity
}

func (d *DriftDetector) tick(ctx context.Context) {
	snap := d.projection.Snapshot()
	if snap.Empty {
		return
	}

	localScene, err := d.obs.CurrentProgramScene(ctx)
	if err != nil {
		d.logger.WithError(err).Warn("drift tick: failed to read current program scene")
		return
	}

	var diffs []diff

	if snap.CurrentScene != "" && localScene != snap.CurrentScene {
		diffs = append(diffs, diff{
			category: "SceneMismatch",
			severity: SeverityError,
			message:  fmt.Sprintf("Current scene mismatch: local='%s', expected='%s'", localScene, snap.CurrentScene),
		})
	}

	expected, hasExpected := snap.Scenes[snap.CurrentScene]
	if hasExpected {
		localItems, err := d.obs.ListItems(ctx, localScene)
		if err != nil {
			d.logger.WithError(err).Warn("drift tick: failed to list local items")
		} else {
			diffs = append(diffs, d.compareItems(ctx, localScene, localItems, expected)...)
		}
	}

	isSynced := len(diffs) == 0
	details := make([]protocol.DesyncDetail, 0, len(diffs))
	for _, df := range diffs {
		details = append(details, protocol.DesyncDetail{
			Category:   df.category,
			SceneName:  df.sceneName,
			SourceName: df.sourceName,
			Message:    df.message,
		})
	}

	env, err := protocol.NewStateReport(protocol.StateReportPayload{
		IsSynced:      isSynced,
		DesyncDetails: details,
		CurrentState:  map[string]interface{}{"current_scene": localScene},
	})
	if err == nil {
		select {
		case d.upstream <- env:
		default:
			d.logger.Warn("upstream channel full, dropping StateReport")
		}
	}

	for _, df := range diffs {
		if d.alert != nil {
			d.alert(Alert{Severity: df.severity, Message: df.message})
		}
	}
}

func (d *DriftDetector) compareItems(ctx context.Context, scene string, localItems []bcapi.Item, expected protocol.SceneSnapshot) []diff {
	var diffs []diff

	localByName := make(map[string]bcapi.Item, len(localItems))
	for _, it := range localItems {
		localByName[it.SourceName] = it
	}

	for _, expItem := range expected.Items {
		local, ok := localByName[expItem.SourceName]
		if !ok {
			diffs = append(diffs, diff{
				category:   "SourceMissing",
				sceneName:  scene,
				sourceName: expItem.SourceName,
				severity:   SeverityWarning,
				message:    fmt.Sprintf("Expected source missing: name='%s'", expItem.SourceName),
			})
			continue
		}
		if expItem.Transform == nil {
			continue
		}
		localTransform, err := d.obs.Transform(ctx, scene, local.ID)
		if err != nil {
			continue
		}
		diffs = append(diffs, compareTransform(scene, expItem.SourceName, *expItem.Transform, localTransform)...)
	}

	return diffs
}

func compareTransform(scene, source string, expected protocol.Transform, local bcapi.TransformValues) []diff {
	var diffs []diff

	if math.Abs(local.PositionX-expected.PositionX) > positionTolerance ||
		math.Abs(local.PositionY-expected.PositionY) > positionTolerance {
		diffs = append(diffs, diff{
			category:   "TransformMismatch/position",
			sceneName:  scene,
			sourceName: source,
			severity:   SeverityWarning,
			message:    fmt.Sprintf("Transform position mismatch for '%s' in '%s'", source, scene),
		})
	}

	if math.Abs(local.ScaleX-expected.ScaleX) > scaleTolerance ||
		math.Abs(local.ScaleY-expected.ScaleY) > scaleTolerance {
		diffs = append(diffs, diff{
			category:   "TransformMismatch/scale",
			sceneName:  scene,
			sourceName: source,
			severity:   SeverityWarning,
			message:    fmt.Sprintf("Transform scale mismatch for '%s' in '%s'", source, scene),
		})
	}

	return diffs
}
