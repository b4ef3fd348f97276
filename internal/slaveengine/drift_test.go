package slaveengine

import (
	"testing"

	"obscore/internal/bcapi"
	"obscore/internal/protocol"
)

func TestCompareTransformWithinToleranceProducesNoDiff(t *testing.T) {
	expected := protocol.Transform{PositionX: 100, PositionY: 100, ScaleX: 1, ScaleY: 1}
	local := bcapi.TransformValues{PositionX: 100.4, PositionY: 99.6, ScaleX: 1.009, ScaleY: 0.991}

	if diffs := compareTransform("S1", "Cam1", expected, local); len(diffs) != 0 {
		t.Fatalf("expected no diffs within tolerance, got %+v", diffs)
	}
}

func TestCompareTransformExceedsPositionToleranceProducesDiff(t *testing.T) {
	expected := protocol.Transform{PositionX: 100, PositionY: 100, ScaleX: 1, ScaleY: 1}
	local := bcapi.TransformValues{PositionX: 101, PositionY: 100, ScaleX: 1, ScaleY: 1}

	diffs := compareTransform("S1", "Cam1", expected, local)
	if len(diffs) != 1 || diffs[0].category != "TransformMismatch/position" {
		t.Fatalf("expected one position mismatch diff, got %+v", diffs)
	}
}

func TestCompareTransformExceedsScaleToleranceProducesDiff(t *testing.T) {
	expected := protocol.Transform{PositionX: 100, PositionY: 100, ScaleX: 1, ScaleY: 1}
	local := bcapi.TransformValues{PositionX: 100, PositionY: 100, ScaleX: 1.02, ScaleY: 1}

	diffs := compareTransform("S1", "Cam1", expected, local)
	if len(diffs) != 1 || diffs[0].category != "TransformMismatch/scale" {
		t.Fatalf("expected one scale mismatch diff, got %+v", diffs)
	}
}
