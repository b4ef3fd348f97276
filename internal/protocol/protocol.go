// Package protocol defines the master-slave wire envelope and its payload
// shapes, and the pure encode/decode functions that sit on top of them.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the discriminant carried by every envelope.
type MessageType string

const (
	SourceUpdate     MessageType = "source_update"
	TransformUpdate  MessageType = "transform_update"
	SceneChange      MessageType = "scene_change"
	ImageUpdate      MessageType = "image_update"
	FilterUpdate     MessageType = "filter_update"
	Heartbeat        MessageType = "heartbeat"
	StateSync        MessageType = "state_sync"
	StateSyncRequest MessageType = "state_sync_request"
	StateReport      MessageType = "state_report"
)

// TargetType gates which event classes a given message replicates.
type TargetType string

const (
	TargetSource  TargetType = "source"
	TargetPreview TargetType = "preview"
	TargetProgram TargetType = "program"
)

// Envelope is the outer protocol message. Payload is kept as raw JSON so that
// decode never fails on an unrecognized message_type or an unknown field
// inside a recognized one; callers pull out the typed payload they expect
// with the As* helpers below.
type Envelope struct {
	MessageType MessageType     `json:"message_type"`
	Timestamp   int64           `json:"timestamp"`
	TargetType  TargetType      `json:"target_type"`
	Payload     json.RawMessage `json:"payload"`
}

// ParseError wraps a decode failure. The caller is expected to log it and
// keep the connection open rather than treat it as fatal.
type ParseError struct {
	Reason string
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("protocol: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Encode serializes an envelope to its wire bytes.
func Encode(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, &ParseError{Reason: "failed to encode envelope", Cause: err}
	}
	return b, nil
}

// Decode parses wire bytes into an envelope. Unknown message_type values are
// NOT an error here — a ParseError is only returned for malformed JSON or a
// missing message_type. Callers that need to reject unknown types do so when
// dispatching, per §4.A ("unknown message_type values cause a logged,
// skipped ParseError without closing the connection").
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &ParseError{Reason: "malformed envelope", Cause: err}
	}
	if env.MessageType == "" {
		return Envelope{}, &ParseError{Reason: "missing message_type"}
	}
	return env, nil
}

// KnownMessageType reports whether mt is one of the nine message types this
// protocol version understands.
func KnownMessageType(mt MessageType) bool {
	switch mt {
	case SourceUpdate, TransformUpdate, SceneChange, ImageUpdate, FilterUpdate,
		Heartbeat, StateSync, StateSyncRequest, StateReport:
		return true
	default:
		return false
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func newEnvelope(mt MessageType, target TargetType, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, &ParseError{Reason: "failed to encode payload", Cause: err}
	}
	return Envelope{
		MessageType: mt,
		Timestamp:   nowMillis(),
		TargetType:  target,
		Payload:     raw,
	}, nil
}

// --- Payload shapes (§3) ---

type ScenePayload struct {
	SceneName string `json:"scene_name"`
}

type Transform struct {
	PositionX float64 `json:"position_x"`
	PositionY float64 `json:"position_y"`
	Rotation  float64 `json:"rotation"`
	ScaleX    float64 `json:"scale_x"`
	ScaleY    float64 `json:"scale_y"`
	Width     float64 `json:"width,omitempty"`
	Height    float64 `json:"height,omitempty"`
}

type TransformUpdatePayload struct {
	SceneName   string    `json:"scene_name"`
	SceneItemID int64     `json:"scene_item_id"`
	Transform   Transform `json:"transform"`
}

type ImageUpdatePayload struct {
	SceneName  string  `json:"scene_name"`
	SourceName string  `json:"source_name"`
	File       string  `json:"file"`
	ImageData  *string `json:"image_data"`
}

type FilterUpdatePayload struct {
	SceneName      string                 `json:"scene_name"`
	SceneItemID    int64                  `json:"scene_item_id"`
	SourceName     string                 `json:"source_name"`
	FilterName     string                 `json:"filter_name"`
	FilterSettings map[string]interface{} `json:"filter_settings"`
}

type SourceUpdateAction string

const (
	ActionCreated              SourceUpdateAction = "created"
	ActionRemoved              SourceUpdateAction = "removed"
	ActionEnabledStateChanged  SourceUpdateAction = "enabled_state_changed"
	ActionSettingsChanged      SourceUpdateAction = "settings_changed"
)

type SourceUpdatePayload struct {
	SceneName         string             `json:"scene_name"`
	SceneItemID       int64              `json:"scene_item_id"`
	SourceName        string             `json:"source_name"`
	Action            SourceUpdateAction `json:"action"`
	SourceType        *string            `json:"source_type,omitempty"`
	SceneItemEnabled  *bool              `json:"scene_item_enabled,omitempty"`
	Transform         *Transform         `json:"transform,omitempty"`
}

type FilterSnapshot struct {
	Name     string                 `json:"name"`
	Enabled  bool                   `json:"enabled"`
	Settings map[string]interface{} `json:"settings"`
}

type ImageSnapshot struct {
	File string `json:"file"`
	Data string `json:"data"`
}

type ItemSnapshot struct {
	SourceName  string          `json:"source_name"`
	SceneItemID int64           `json:"scene_item_id"`
	SourceType  string          `json:"source_type,omitempty"`
	Transform   *Transform      `json:"transform,omitempty"`
	ImageData   *ImageSnapshot  `json:"image_data,omitempty"`
	Filters     []FilterSnapshot `json:"filters"`
}

type SceneSnapshot struct {
	Name  string         `json:"name"`
	Items []ItemSnapshot `json:"items"`
}

type StateSyncPayload struct {
	CurrentProgramScene string          `json:"current_program_scene"`
	CurrentPreviewScene *string         `json:"current_preview_scene,omitempty"`
	Scenes              []SceneSnapshot `json:"scenes"`
}

// DesyncDetail is one entry in a StateReport's desync_details list.
type DesyncDetail struct {
	Category   string `json:"category"`
	SceneName  string `json:"scene_name,omitempty"`
	SourceName string `json:"source_name,omitempty"`
	Message    string `json:"message"`
}

type StateReportPayload struct {
	IsSynced      bool                   `json:"is_synced"`
	DesyncDetails []DesyncDetail         `json:"desync_details"`
	CurrentState  map[string]interface{} `json:"current_state"`
}

// --- Constructors ---

// NewSceneChange builds a SceneChange envelope for the given target.
func NewSceneChange(target TargetType, sceneName string) (Envelope, error) {
	return newEnvelope(SceneChange, target, ScenePayload{SceneName: sceneName})
}

// NewTransformUpdate builds a TransformUpdate envelope (always target=Source).
func NewTransformUpdate(sceneName string, itemID int64, t Transform) (Envelope, error) {
	return newEnvelope(TransformUpdate, TargetSource, TransformUpdatePayload{
		SceneName:   sceneName,
		SceneItemID: itemID,
		Transform:   t,
	})
}

// NewImageUpdate builds an ImageUpdate envelope (always target=Source).
func NewImageUpdate(sceneName, sourceName, file string, imageData *string) (Envelope, error) {
	return newEnvelope(ImageUpdate, TargetSource, ImageUpdatePayload{
		SceneName:  sceneName,
		SourceName: sourceName,
		File:       file,
		ImageData:  imageData,
	})
}

// NewFilterUpdate builds a FilterUpdate envelope (always target=Source).
func NewFilterUpdate(p FilterUpdatePayload) (Envelope, error) {
	return newEnvelope(FilterUpdate, TargetSource, p)
}

// NewStateSync builds a full-snapshot envelope (always target=Program).
func NewStateSync(p StateSyncPayload) (Envelope, error) {
	return newEnvelope(StateSync, TargetProgram, p)
}

// NewStateReport builds an upstream StateReport envelope.
func NewStateReport(p StateReportPayload) (Envelope, error) {
	return newEnvelope(StateReport, TargetProgram, p)
}

// NewHeartbeat builds an empty-payload heartbeat.
func NewHeartbeat() (Envelope, error) {
	return newEnvelope(Heartbeat, TargetProgram, struct{}{})
}

// NewStateSyncRequest is the convenience constructor named in §4.A: an
// envelope with empty payload and target_type=Program.
func NewStateSyncRequest() (Envelope, error) {
	return newEnvelope(StateSyncRequest, TargetProgram, struct{}{})
}

// --- Payload decoders ---

func unmarshalPayload(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ParseError{Reason: "malformed payload", Cause: err}
	}
	return nil
}

func (e Envelope) AsScenePayload() (ScenePayload, error) {
	var p ScenePayload
	err := unmarshalPayload(e.Payload, &p)
	return p, err
}

func (e Envelope) AsTransformUpdatePayload() (TransformUpdatePayload, error) {
	var p TransformUpdatePayload
	err := unmarshalPayload(e.Payload, &p)
	return p, err
}

func (e Envelope) AsImageUpdatePayload() (ImageUpdatePayload, error) {
	var p ImageUpdatePayload
	err := unmarshalPayload(e.Payload, &p)
	return p, err
}

func (e Envelope) AsFilterUpdatePayload() (FilterUpdatePayload, error) {
	var p FilterUpdatePayload
	err := unmarshalPayload(e.Payload, &p)
	return p, err
}

func (e Envelope) AsSourceUpdatePayload() (SourceUpdatePayload, error) {
	var p SourceUpdatePayload
	err := unmarshalPayload(e.Payload, &p)
	return p, err
}

func (e Envelope) AsStateSyncPayload() (StateSyncPayload, error) {
	var p StateSyncPayload
	err := unmarshalPayload(e.Payload, &p)
	return p, err
}

func (e Envelope) AsStateReportPayload() (StateReportPayload, error) {
	var p StateReportPayload
	err := unmarshalPayload(e.Payload, &p)
	return p, err
}
