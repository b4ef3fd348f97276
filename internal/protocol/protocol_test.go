package protocol

import (
	"encoding/json"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env, err := NewSceneChange(TargetProgram, "Camera 2")
	if err != nil {
		t.Fatalf("NewSceneChange: %v", err)
	}

	wire, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.MessageType != SceneChange {
		t.Fatalf("expected message_type scene_change, got %s", decoded.MessageType)
	}
	if decoded.TargetType != TargetProgram {
		t.Fatalf("expected target_type program, got %s", decoded.TargetType)
	}
	if decoded.Timestamp == 0 {
		t.Fatalf("expected non-zero timestamp")
	}

	payload, err := decoded.AsScenePayload()
	if err != nil {
		t.Fatalf("AsScenePayload: %v", err)
	}
	if payload.SceneName != "Camera 2" {
		t.Fatalf("expected scene_name Camera 2, got %q", payload.SceneName)
	}
}

func TestDecodeUnknownMessageTypeIsNotFatal(t *testing.T) {
	raw := []byte(`{"message_type":"future_extension","timestamp":1,"target_type":"program","payload":{}}`)

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode should accept unknown message types, got error: %v", err)
	}
	if KnownMessageType(env.MessageType) {
		t.Fatalf("future_extension should not be a known message type")
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	if err == nil {
		t.Fatalf("expected ParseError on malformed JSON")
	}
	var pe *ParseError
	if _, ok := err.(*ParseError); !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	_ = pe
}

func TestDecodeMissingMessageType(t *testing.T) {
	_, err := Decode([]byte(`{"timestamp":1,"target_type":"program","payload":{}}`))
	if err == nil {
		t.Fatalf("expected ParseError for missing message_type")
	}
}

func TestStateSyncRequestConvenienceConstructor(t *testing.T) {
	env, err := NewStateSyncRequest()
	if err != nil {
		t.Fatalf("NewStateSyncRequest: %v", err)
	}
	if env.MessageType != StateSyncRequest {
		t.Fatalf("expected state_sync_request, got %s", env.MessageType)
	}
	if env.TargetType != TargetProgram {
		t.Fatalf("expected target_type program, got %s", env.TargetType)
	}
	if string(env.Payload) != "{}" {
		t.Fatalf("expected empty object payload, got %s", env.Payload)
	}
}

func TestTransformUpdatePreservesUnspecifiedFields(t *testing.T) {
	// An envelope built with only position/scale set should round-trip
	// width/height as zero, which callers (the slave applier) must treat as
	// "leave the existing value in place" rather than "set to zero".
	env, err := NewTransformUpdate("Scene1", 4, Transform{PositionX: 10, PositionY: 20, ScaleX: 1, ScaleY: 1})
	if err != nil {
		t.Fatalf("NewTransformUpdate: %v", err)
	}

	wire, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	payload, err := decoded.AsTransformUpdatePayload()
	if err != nil {
		t.Fatalf("AsTransformUpdatePayload: %v", err)
	}
	if payload.Transform.Width != 0 || payload.Transform.Height != 0 {
		t.Fatalf("expected zero-value width/height when unspecified")
	}
}

func TestImageUpdateNullImageData(t *testing.T) {
	env, err := NewImageUpdate("Scene1", "Logo", "", nil)
	if err != nil {
		t.Fatalf("NewImageUpdate: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(env.Payload, &raw); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if string(raw["image_data"]) != "null" {
		t.Fatalf("expected image_data to serialize as null, got %s", raw["image_data"])
	}
}
