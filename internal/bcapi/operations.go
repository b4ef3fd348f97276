package bcapi

import (
	"context"
	"encoding/base64"
	"os"
)

// Version reports the connected application and API versions.
func (c *Client) Version(ctx context.Context) (appVersion, apiVersion string, err error) {
	resp, err := c.call(ctx, "GetVersion", nil)
	if err != nil {
		return "", "", err
	}
	return str(resp, "app_version"), str(resp, "api_version"), nil
}

// CurrentProgramScene returns the name of the scene currently on air.
func (c *Client) CurrentProgramScene(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, "GetCurrentProgramScene", nil)
	if err != nil {
		return "", err
	}
	return str(resp, "scene_name"), nil
}

// CurrentPreviewScene returns the staged scene. Returns a StudioModeDisabled
// error when studio mode is off, per §4.B.
func (c *Client) CurrentPreviewScene(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, "GetCurrentPreviewScene", nil)
	if err != nil {
		return "", err
	}
	return str(resp, "scene_name"), nil
}

// SetCurrentProgramScene switches the program (on-air) scene.
func (c *Client) SetCurrentProgramScene(ctx context.Context, name string) error {
	_, err := c.call(ctx, "SetCurrentProgramScene", map[string]interface{}{"scene_name": name})
	return err
}

// SetCurrentPreviewScene switches the preview (staged) scene.
func (c *Client) SetCurrentPreviewScene(ctx context.Context, name string) error {
	_, err := c.call(ctx, "SetCurrentPreviewScene", map[string]interface{}{"scene_name": name})
	return err
}

// ListScenes returns every scene name known to the BC-API.
func (c *Client) ListScenes(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, "GetSceneList", nil)
	if err != nil {
		return nil, err
	}
	raw, _ := resp["scenes"].([]interface{})
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]interface{}); ok {
			names = append(names, str(m, "scene_name"))
		}
	}
	return names, nil
}

// ListItems returns the scene items placed within a scene.
func (c *Client) ListItems(ctx context.Context, scene string) ([]Item, error) {
	resp, err := c.call(ctx, "GetSceneItemList", map[string]interface{}{"scene_name": scene})
	if err != nil {
		return nil, err
	}
	raw, _ := resp["scene_items"].([]interface{})
	items := make([]Item, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		items = append(items, Item{
			ID:         i64(m, "scene_item_id"),
			SourceName: str(m, "source_name"),
			InputKind:  str(m, "input_kind"),
		})
	}
	return items, nil
}

// Transform returns the current transform of a scene item.
func (c *Client) Transform(ctx context.Context, scene string, itemID int64) (TransformValues, error) {
	resp, err := c.call(ctx, "GetSceneItemTransform", map[string]interface{}{
		"scene_name":    scene,
		"scene_item_id": itemID,
	})
	if err != nil {
		return TransformValues{}, err
	}
	return TransformValues{
		PositionX: f64(resp, "position_x"),
		PositionY: f64(resp, "position_y"),
		Rotation:  f64(resp, "rotation"),
		ScaleX:    f64(resp, "scale_x"),
		ScaleY:    f64(resp, "scale_y"),
		Width:     f64(resp, "width"),
		Height:    f64(resp, "height"),
	}, nil
}

// SetTransform overwrites a scene item's transform.
func (c *Client) SetTransform(ctx context.Context, scene string, itemID int64, t TransformValues) error {
	_, err := c.call(ctx, "SetSceneItemTransform", map[string]interface{}{
		"scene_name":    scene,
		"scene_item_id": itemID,
		"position_x":    t.PositionX,
		"position_y":    t.PositionY,
		"rotation":      t.Rotation,
		"scale_x":       t.ScaleX,
		"scale_y":       t.ScaleY,
	})
	return err
}

// CreateItem adds source to scene as a new scene item and returns its id.
func (c *Client) CreateItem(ctx context.Context, scene, source string, enabled bool) (int64, error) {
	resp, err := c.call(ctx, "CreateSceneItem", map[string]interface{}{
		"scene_name":        scene,
		"source_name":       source,
		"scene_item_enabled": enabled,
	})
	if err != nil {
		return 0, err
	}
	return i64(resp, "scene_item_id"), nil
}

// RemoveItem deletes a scene item.
func (c *Client) RemoveItem(ctx context.Context, scene string, itemID int64) error {
	_, err := c.call(ctx, "RemoveSceneItem", map[string]interface{}{
		"scene_name":    scene,
		"scene_item_id": itemID,
	})
	return err
}

// SetItemEnabled toggles a scene item's visibility.
func (c *Client) SetItemEnabled(ctx context.Context, scene string, itemID int64, enabled bool) error {
	_, err := c.call(ctx, "SetSceneItemEnabled", map[string]interface{}{
		"scene_name":         scene,
		"scene_item_id":      itemID,
		"scene_item_enabled": enabled,
	})
	return err
}

// InputSettings returns the raw settings object of an input.
func (c *Client) InputSettings(ctx context.Context, inputName string) (map[string]interface{}, error) {
	resp, err := c.call(ctx, "GetInputSettings", map[string]interface{}{"input_name": inputName})
	if err != nil {
		return nil, err
	}
	settings, _ := resp["input_settings"].(map[string]interface{})
	return settings, nil
}

// SetInputSettings applies settings to an input. overlay=true merges into
// the existing settings rather than replacing them wholesale.
func (c *Client) SetInputSettings(ctx context.Context, inputName string, settings map[string]interface{}, overlay bool) error {
	_, err := c.call(ctx, "SetInputSettings", map[string]interface{}{
		"input_name":     inputName,
		"input_settings": settings,
		"overlay":        overlay,
	})
	return err
}

// ListFilters returns the filter chain attached to a source.
func (c *Client) ListFilters(ctx context.Context, source string) ([]FilterInfo, error) {
	resp, err := c.call(ctx, "GetSourceFilterList", map[string]interface{}{"source_name": source})
	if err != nil {
		return nil, err
	}
	raw, _ := resp["filters"].([]interface{})
	filters := make([]FilterInfo, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		settings, _ := m["filter_settings"].(map[string]interface{})
		enabled, _ := m["filter_enabled"].(bool)
		filters = append(filters, FilterInfo{
			Name:     str(m, "filter_name"),
			Enabled:  enabled,
			Settings: settings,
		})
	}
	return filters, nil
}

// SetFilterSettings applies settings to a named filter on source.
func (c *Client) SetFilterSettings(ctx context.Context, source, filter string, settings map[string]interface{}, overlay bool) error {
	_, err := c.call(ctx, "SetSourceFilterSettings", map[string]interface{}{
		"source_name":     source,
		"filter_name":     filter,
		"filter_settings": settings,
		"overlay":         overlay,
	})
	return err
}

// SetFilterEnabled toggles a filter on or off.
func (c *Client) SetFilterEnabled(ctx context.Context, source, filter string, enabled bool) error {
	_, err := c.call(ctx, "SetSourceFilterEnabled", map[string]interface{}{
		"source_name":    source,
		"filter_name":    filter,
		"filter_enabled": enabled,
	})
	return err
}

// ReadInputImage looks up an image-source input's configured file and reads
// it from disk, returning the raw bytes ready for base64 inlining. Returns
// ("", nil, nil) — not an error — when the input has no file configured,
// matching the original adapter's "no file path found" skip rather than a
// failure (grounded on master.rs's get_image_data_for_source).
func (c *Client) ReadInputImage(ctx context.Context, inputName string) (file string, data []byte, err error) {
	settings, err := c.InputSettings(ctx, inputName)
	if err != nil {
		return "", nil, err
	}
	file, _ = settings["file"].(string)
	if file == "" {
		return "", nil, nil
	}
	data, readErr := os.ReadFile(file)
	if readErr != nil {
		return file, nil, newError(Other, "read image file %s: %v", file, readErr)
	}
	return file, data, nil
}

// EncodeImageBase64 is a small helper kept alongside ReadInputImage so
// callers building ImageUpdate payloads don't reach for encoding/base64
// directly; mirrors the original adapter's combined read+encode step.
func EncodeImageBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func f64(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}
