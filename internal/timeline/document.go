package timeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"reelvault/internal/faults"
	"reelvault/internal/fileutil"
	"reelvault/internal/project"
)

// SchemaVersion is the document layout written by this build.
const SchemaVersion = 1

// FormatVersion is the user-visible document version string.
const FormatVersion = "1.0.0"

// DefaultTrackHeight is used for tracks saved without a height.
const DefaultTrackHeight = 80

// TrackType is the kind of clips a track holds.
type TrackType string

const (
	TrackVideo TrackType = "video"
	TrackAudio TrackType = "audio"
	TrackText  TrackType = "text"
)

func (t TrackType) valid() bool {
	switch t {
	case TrackVideo, TrackAudio, TrackText:
		return true
	}
	return false
}

// Point is a 2D coordinate or scale pair.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Transform places a visual clip in the frame. Scale, anchor and opacity
// are percentages.
type Transform struct {
	Position    Point   `json:"position"`
	Scale       Point   `json:"scale"`
	Rotation    float64 `json:"rotation"`
	AnchorPoint Point   `json:"anchor_point"`
	Opacity     float64 `json:"opacity"`
}

// DefaultTransform is the identity placement.
func DefaultTransform() Transform {
	return Transform{
		Scale:       Point{X: 100, Y: 100},
		AnchorPoint: Point{X: 50, Y: 50},
		Opacity:     100,
	}
}

// Effect is one filter applied to a clip. Params are kept verbatim.
type Effect struct {
	ID      string                     `json:"id"`
	Type    string                     `json:"type"`
	Enabled bool                       `json:"enabled"`
	Params  map[string]json.RawMessage `json:"params,omitempty"`
}

// Transition blends a clip edge.
type Transition struct {
	Type     string  `json:"type"`
	Duration float64 `json:"duration"`
}

// AudioParams are the per-clip mix settings. Volume is a percentage.
type AudioParams struct {
	Volume  float64 `json:"volume"`
	Pan     float64 `json:"pan"`
	FadeIn  float64 `json:"fade_in"`
	FadeOut float64 `json:"fade_out"`
	Muted   bool    `json:"muted"`
}

// Speed is the playback rate of a clip.
type Speed struct {
	Rate    float64 `json:"rate"`
	Reverse bool    `json:"reverse"`
}

// Clip is one placed piece of media. Times are in seconds; SourceIn and
// SourceOut bound the used range of the referenced asset.
type Clip struct {
	ID            string       `json:"id"`
	Type          string       `json:"type"`
	Name          string       `json:"name,omitempty"`
	Start         float64      `json:"start"`
	Duration      float64      `json:"duration"`
	SourceIn      float64      `json:"source_in"`
	SourceOut     float64      `json:"source_out"`
	AssetUUID     string       `json:"asset_uuid,omitempty"`
	Locked        bool         `json:"locked"`
	Disabled      bool         `json:"disabled"`
	Transform     *Transform   `json:"transform,omitempty"`
	Effects       []Effect     `json:"effects"`
	TransitionIn  *Transition  `json:"transition_in,omitempty"`
	TransitionOut *Transition  `json:"transition_out,omitempty"`
	Audio         *AudioParams `json:"audio,omitempty"`
	Speed         *Speed       `json:"speed,omitempty"`
}

// End returns the timeline position where the clip stops.
func (c Clip) End() float64 {
	return c.Start + c.Duration
}

// Track is an ordered lane of clips.
type Track struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Type   TrackType `json:"type"`
	Clips  []Clip    `json:"clips"`
	Muted  bool      `json:"muted"`
	Locked bool      `json:"locked"`
	Height int       `json:"height"`
}

// Document is the persisted timeline. It is replaced whole on every save.
type Document struct {
	SchemaVersion    int                        `json:"schema_version"`
	Version          string                     `json:"version"`
	SavedAt          time.Time                  `json:"saved_at"`
	Duration         float64                    `json:"duration"`
	Tracks           []Track                    `json:"tracks"`
	SelectedClipID   *string                    `json:"selected_clip_id"`
	SelectedClipIDs  []string                   `json:"selected_clip_ids"`
	Snapping         bool                       `json:"snapping"`
	RippleMode       bool                       `json:"ripple_mode"`
	LinkedPairs      []json.RawMessage          `json:"linked_pairs"`
	TrackControls    map[string]json.RawMessage `json:"track_controls"`
	Zoom             float64                    `json:"zoom"`
	ScrollPosition   float64                    `json:"scroll_position"`
	PlayheadPosition float64                    `json:"playhead_position"`
}

// ClipCount returns the number of clips across all tracks.
func (d Document) ClipCount() int {
	n := 0
	for _, t := range d.Tracks {
		n += len(t.Clips)
	}
	return n
}

// State returns the editor state that reproduces d when saved.
func (d Document) State() State {
	snapping := d.Snapping
	return State{
		ProjectDuration:  d.Duration,
		Tracks:           d.Tracks,
		SelectedClipID:   d.SelectedClipID,
		SelectedClipIDs:  d.SelectedClipIDs,
		Snapping:         &snapping,
		RippleMode:       d.RippleMode,
		LinkedPairs:      d.LinkedPairs,
		TrackControls:    d.TrackControls,
		Zoom:             d.Zoom,
		ScrollPosition:   d.ScrollPosition,
		PlayheadPosition: d.PlayheadPosition,
	}
}

// State is the editor's in-memory timeline as handed to Save. Missing
// fields take the document defaults.
type State struct {
	ProjectDuration  float64                    `json:"project_duration"`
	Tracks           []Track                    `json:"tracks"`
	SelectedClipID   *string                    `json:"selected_clip_id"`
	SelectedClipIDs  []string                   `json:"selected_clip_ids"`
	Snapping         *bool                      `json:"snapping"`
	RippleMode       bool                       `json:"ripple_mode"`
	LinkedPairs      []json.RawMessage          `json:"linked_pairs"`
	TrackControls    map[string]json.RawMessage `json:"track_controls"`
	Zoom             float64                    `json:"zoom"`
	ScrollPosition   float64                    `json:"scroll_position"`
	PlayheadPosition float64                    `json:"playhead_position"`
}

func validationError(format string, args ...any) error {
	return faults.Wrap(faults.ErrValidation, "timeline", "normalize", fmt.Sprintf(format, args...), nil)
}

// Normalize converts editor state into the canonical document shape.
// Missing ids are generated, defaults filled in, and the duration derived
// from the clips when the editor did not supply one.
func Normalize(state State) (Document, error) {
	doc := Document{
		SchemaVersion:    SchemaVersion,
		Version:          FormatVersion,
		Duration:         state.ProjectDuration,
		Tracks:           make([]Track, 0, len(state.Tracks)),
		SelectedClipID:   state.SelectedClipID,
		SelectedClipIDs:  state.SelectedClipIDs,
		Snapping:         true,
		RippleMode:       state.RippleMode,
		LinkedPairs:      state.LinkedPairs,
		TrackControls:    state.TrackControls,
		Zoom:             state.Zoom,
		ScrollPosition:   state.ScrollPosition,
		PlayheadPosition: state.PlayheadPosition,
	}
	if state.Snapping != nil {
		doc.Snapping = *state.Snapping
	}
	if doc.SelectedClipIDs == nil {
		doc.SelectedClipIDs = []string{}
	}
	if doc.LinkedPairs == nil {
		doc.LinkedPairs = []json.RawMessage{}
	}
	if doc.TrackControls == nil {
		doc.TrackControls = map[string]json.RawMessage{}
	}
	if doc.Zoom <= 0 {
		doc.Zoom = 1
	}
	if doc.Duration < 0 || doc.ScrollPosition < 0 || doc.PlayheadPosition < 0 {
		return Document{}, validationError("negative duration or position")
	}

	seen := make(map[string]struct{})
	var end float64
	for i, track := range state.Tracks {
		normalized, err := normalizeTrack(i, track, seen)
		if err != nil {
			return Document{}, err
		}
		for _, c := range normalized.Clips {
			if c.End() > end {
				end = c.End()
			}
		}
		doc.Tracks = append(doc.Tracks, normalized)
	}
	if doc.Duration == 0 {
		doc.Duration = end
	}
	return doc, nil
}

func normalizeTrack(i int, t Track, seen map[string]struct{}) (Track, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if strings.TrimSpace(t.Name) == "" {
		t.Name = fmt.Sprintf("Track %d", i+1)
	}
	if t.Type == "" {
		t.Type = TrackVideo
	}
	if !t.Type.valid() {
		return Track{}, validationError("track %s has unknown type %q", t.ID, t.Type)
	}
	if t.Height <= 0 {
		t.Height = DefaultTrackHeight
	}
	clips := make([]Clip, 0, len(t.Clips))
	for _, c := range t.Clips {
		normalized, err := normalizeClip(t.Type, c)
		if err != nil {
			return Track{}, err
		}
		if _, dup := seen[normalized.ID]; dup {
			return Track{}, validationError("duplicate clip id %s", normalized.ID)
		}
		seen[normalized.ID] = struct{}{}
		clips = append(clips, normalized)
	}
	t.Clips = clips
	return t, nil
}

func normalizeClip(trackType TrackType, c Clip) (Clip, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Type == "" {
		c.Type = string(trackType)
	}
	if c.Start < 0 || c.Duration < 0 || c.SourceIn < 0 {
		return Clip{}, validationError("clip %s has negative timing", c.ID)
	}
	if c.SourceOut == 0 {
		c.SourceOut = c.SourceIn + c.Duration
	}
	if c.SourceOut < c.SourceIn {
		return Clip{}, validationError("clip %s ends before it starts in its source", c.ID)
	}
	if c.Transform == nil && trackType != TrackAudio {
		t := DefaultTransform()
		c.Transform = &t
	}
	if c.Audio == nil && trackType != TrackText && c.Type != "image" {
		c.Audio = &AudioParams{Volume: 100}
	}
	if c.Speed == nil {
		c.Speed = &Speed{Rate: 1}
	} else if c.Speed.Rate <= 0 {
		c.Speed.Rate = 1
	}
	if c.Effects == nil {
		c.Effects = []Effect{}
	}
	for i := range c.Effects {
		if c.Effects[i].ID == "" {
			c.Effects[i].ID = uuid.NewString()
		}
	}
	return c, nil
}

// Initial returns the document of a freshly created project.
func Initial(savedAt time.Time) Document {
	return Document{
		SchemaVersion: SchemaVersion,
		Version:       FormatVersion,
		SavedAt:       savedAt.UTC(),
		Tracks: []Track{{
			ID:     "t2",
			Name:   "Main Track",
			Type:   TrackAudio,
			Clips:  []Clip{},
			Height: DefaultTrackHeight,
		}},
		SelectedClipIDs: []string{},
		Snapping:        true,
		LinkedPairs:     []json.RawMessage{},
		TrackControls:   map[string]json.RawMessage{},
		Zoom:            1,
	}
}

// Seed writes the initial timeline of a new project.
func Seed(projectPath string, m project.Manifest) error {
	return fileutil.WriteJSONAtomic(m.TimelinePath(projectPath), Initial(m.CreatedAt))
}

// legacyFields holds the camelCase keys of documents written before
// schema_version existed.
type legacyFields struct {
	SelectedClipID   *string                    `json:"selectedClipId"`
	SelectedClipIDs  []string                   `json:"selectedClipIds"`
	RippleMode       *bool                      `json:"rippleMode"`
	LinkedPairs      []json.RawMessage          `json:"linkedPairs"`
	TrackControls    map[string]json.RawMessage `json:"trackControls"`
	ScrollPosition   *float64                   `json:"scrollPosition"`
	PlayheadPosition *float64                   `json:"playheadPosition"`
}

// legacyClip holds the camelCase clip keys written before schema_version
// existed. Keys shared with Clip decode through Clip itself.
type legacyClip struct {
	SourceIn      *float64    `json:"sourceIn"`
	SourceOut     *float64    `json:"sourceOut"`
	AssetID       *string     `json:"assetId"`
	TransitionIn  *Transition `json:"transitionIn"`
	TransitionOut *Transition `json:"transitionOut"`
	Transform     *struct {
		AnchorPoint *Point `json:"anchorPoint"`
	} `json:"transform"`
	Audio *struct {
		FadeIn  *float64 `json:"fadeIn"`
		FadeOut *float64 `json:"fadeOut"`
	} `json:"audio"`
}

type legacyTracks struct {
	Tracks []struct {
		Clips []legacyClip `json:"clips"`
	} `json:"tracks"`
}

// migrateClip copies the camelCase values of old onto c.
func migrateClip(c *Clip, old legacyClip) {
	if old.SourceIn != nil {
		c.SourceIn = *old.SourceIn
	}
	if old.SourceOut != nil {
		c.SourceOut = *old.SourceOut
	}
	if old.AssetID != nil && c.AssetUUID == "" {
		c.AssetUUID = *old.AssetID
	}
	if old.TransitionIn != nil && c.TransitionIn == nil {
		c.TransitionIn = old.TransitionIn
	}
	if old.TransitionOut != nil && c.TransitionOut == nil {
		c.TransitionOut = old.TransitionOut
	}
	if old.Transform != nil && old.Transform.AnchorPoint != nil && c.Transform != nil {
		c.Transform.AnchorPoint = *old.Transform.AnchorPoint
	}
	if old.Audio != nil && c.Audio != nil {
		if old.Audio.FadeIn != nil {
			c.Audio.FadeIn = *old.Audio.FadeIn
		}
		if old.Audio.FadeOut != nil {
			c.Audio.FadeOut = *old.Audio.FadeOut
		}
	}
}

// decodeDocument parses a stored document, migrating older layouts.
func decodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	if doc.SchemaVersion >= SchemaVersion {
		return doc, nil
	}
	var legacy legacyFields
	if err := json.Unmarshal(data, &legacy); err != nil {
		return Document{}, err
	}
	if doc.SelectedClipID == nil {
		doc.SelectedClipID = legacy.SelectedClipID
	}
	if doc.SelectedClipIDs == nil {
		doc.SelectedClipIDs = legacy.SelectedClipIDs
	}
	if legacy.RippleMode != nil {
		doc.RippleMode = *legacy.RippleMode
	}
	if doc.LinkedPairs == nil {
		doc.LinkedPairs = legacy.LinkedPairs
	}
	if doc.TrackControls == nil {
		doc.TrackControls = legacy.TrackControls
	}
	if legacy.ScrollPosition != nil {
		doc.ScrollPosition = *legacy.ScrollPosition
	}
	if legacy.PlayheadPosition != nil {
		doc.PlayheadPosition = *legacy.PlayheadPosition
	}
	var tracks legacyTracks
	if err := json.Unmarshal(data, &tracks); err != nil {
		return Document{}, err
	}
	for i := range doc.Tracks {
		if i >= len(tracks.Tracks) {
			break
		}
		for j := range doc.Tracks[i].Clips {
			if j >= len(tracks.Tracks[i].Clips) {
				break
			}
			migrateClip(&doc.Tracks[i].Clips[j], tracks.Tracks[i].Clips[j])
		}
	}
	if doc.Version == "" {
		doc.Version = FormatVersion
	}
	if doc.Zoom <= 0 {
		doc.Zoom = 1
	}
	if doc.Tracks == nil {
		doc.Tracks = []Track{}
	}
	doc.SchemaVersion = SchemaVersion
	return doc, nil
}
