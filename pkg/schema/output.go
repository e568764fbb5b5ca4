package schema

import (
	"encoding/json"
	"strconv"
	"strings"
)

// OutputType tags the variant carried by an OutputItem.
type OutputType string

const (
	OutputImage    OutputType = "image"
	OutputVideo    OutputType = "video"
	OutputAudio    OutputType = "audio"
	OutputText     OutputType = "text"
	OutputScene    OutputType = "scene"
	OutputDocument OutputType = "document"
)

// IsMedia reports whether t is one of the generated media variants.
func (t OutputType) IsMedia() bool {
	return t == OutputImage || t == OutputVideo || t == OutputAudio
}

// legacyFailureMarker is the marker older definitions embedded in text outputs
// instead of setting Error.
const legacyFailureMarker = "❌"

// Scene is one reviewable item of a two-phase script.
type Scene struct {
	Index       int    `json:"index"`
	Description string `json:"scene_description"`
	Motion      string `json:"video_motion,omitempty"`
	AdCopy      string `json:"ad_copy,omitempty"`
}

// OutputItem is one result produced by a recipe run.
//
// Type selects the variant: media items use URL, text and document items use
// Value, scene items use Scene. Error marks an item that reports a failure
// rather than a result.
type OutputItem struct {
	Type  OutputType     `json:"type"`
	Title string         `json:"title,omitempty"`
	Value string         `json:"value,omitempty"`
	URL   string         `json:"url,omitempty"`
	Error bool           `json:"error,omitempty"`
	Scene *Scene         `json:"scene,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// ImageOutput builds an image variant.
func ImageOutput(title, url string) OutputItem {
	return OutputItem{Type: OutputImage, Title: title, URL: url}
}

// VideoOutput builds a video variant.
func VideoOutput(title, url string) OutputItem {
	return OutputItem{Type: OutputVideo, Title: title, URL: url}
}

// AudioOutput builds an audio variant.
func AudioOutput(title, url string) OutputItem {
	return OutputItem{Type: OutputAudio, Title: title, URL: url}
}

// TextOutput builds a text variant.
func TextOutput(title, value string) OutputItem {
	return OutputItem{Type: OutputText, Title: title, Value: value}
}

// ErrorOutput builds a text variant flagged as a failure report.
func ErrorOutput(title, message string) OutputItem {
	return OutputItem{Type: OutputText, Title: title, Value: message, Error: true}
}

// SceneOutput builds a scene variant for the approval step.
func SceneOutput(scene Scene) OutputItem {
	return OutputItem{Type: OutputScene, Title: sceneTitle(scene.Index), Scene: &scene}
}

func sceneTitle(idx int) string {
	return "Scene " + strconv.Itoa(idx+1)
}

// IsFailureReport reports whether the item describes a failure: it is
// flagged Error, or it is a text item carrying the legacy marker in its title
// or value.
func (o OutputItem) IsFailureReport() bool {
	if o.Error {
		return true
	}
	return o.Type == OutputText && strings.Contains(o.Title+o.Value, legacyFailureMarker)
}

// IsResult reports whether the item counts as genuine output: any media item,
// or a text item that is not a failure report.
func (o OutputItem) IsResult() bool {
	if o.Type.IsMedia() {
		return true
	}
	return o.Type == OutputText && !o.IsFailureReport()
}

// UnmarshalJSON decodes an item and sets Error on legacy failure reports
// that carry the marker but no explicit error field. An explicit field is
// kept as stored.
func (o *OutputItem) UnmarshalJSON(data []byte) error {
	type plain OutputItem
	var raw struct {
		plain
		Error *bool `json:"error,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = OutputItem(raw.plain)
	switch {
	case raw.Error != nil:
		o.Error = *raw.Error
	case o.Type == OutputText:
		o.Error = strings.Contains(o.Title+o.Value, legacyFailureMarker)
	}
	return nil
}

// Classification is the outcome derived from a finished run's outputs.
type Classification struct {
	Failed  bool
	Message string
}

// FallbackFailureMessage is used when error-only outputs carry no message.
const FallbackFailureMessage = "Recipe returned errors without producing output."

// ClassifyOutputs decides whether a result succeeded. A result with at least
// one output and no genuine result is a failure whose message comes from the
// first failure report. An empty result is a success.
func ClassifyOutputs(outputs []OutputItem) Classification {
	if len(outputs) == 0 {
		return Classification{}
	}
	for _, o := range outputs {
		if o.IsResult() {
			return Classification{}
		}
	}
	msg := FallbackFailureMessage
	for _, o := range outputs {
		if o.IsFailureReport() && o.Value != "" {
			msg = o.Value
			break
		}
	}
	return Classification{Failed: true, Message: TruncateError(msg)}
}

// ScenesFromOutputs collects the scene variants of a script phase.
func ScenesFromOutputs(outputs []OutputItem) []Scene {
	var scenes []Scene
	for _, o := range outputs {
		if o.Type == OutputScene && o.Scene != nil {
			scenes = append(scenes, *o.Scene)
		}
	}
	return scenes
}
