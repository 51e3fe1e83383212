package proxy

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"reelvault/internal/project"
)

// DefaultProfile is used when a request names no profile.
const DefaultProfile = "720p"

// Profile is a named transcoding preset.
type Profile struct {
	Name    string `json:"name"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Codec   string `json:"codec"`
	CRF     int    `json:"crf"`
	Preset  string `json:"preset"`
	Bitrate string `json:"bitrate"`
	Suffix  string `json:"suffix"`
}

var profiles = map[string]Profile{
	"480p":  {Name: "480p", Width: 854, Height: 480, Codec: "libx264", CRF: 25, Preset: "fast", Bitrate: "1M", Suffix: "_480p"},
	"720p":  {Name: "720p", Width: 1280, Height: 720, Codec: "libx264", CRF: 23, Preset: "medium", Bitrate: "2M", Suffix: "_720p"},
	"1080p": {Name: "1080p", Width: 1920, Height: 1080, Codec: "libx265", CRF: 26, Preset: "medium", Bitrate: "4M", Suffix: "_1080p"},
}

// Lookup returns the profile registered under name, case-insensitively.
func Lookup(name string) (Profile, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultProfile
	}
	p, ok := profiles[name]
	return p, ok
}

// Profiles returns every profile ordered by output height.
func Profiles() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out
}

// Names lists the profile names ordered by output height.
func Names() []string {
	var names []string
	for _, p := range Profiles() {
		names = append(names, p.Name)
	}
	return names
}

// Label is a human-readable summary such as "720p (1280x720, libx264, Medium)".
func (p Profile) Label() string {
	return fmt.Sprintf("%s (%dx%d, %s, %s)", p.Name, p.Width, p.Height, p.Codec, cases.Title(language.Und).String(p.Preset))
}

// OutputPath returns the proxy location of assetUUID relative to the
// project root.
func (p Profile) OutputPath(assetUUID string) string {
	return path.Join(project.ProxiesDir, assetUUID+p.Suffix+".mp4")
}

// Args builds the ffmpeg argument list transcoding input into output.
func (p Profile) Args(input, output string) []string {
	return []string{
		"-i", input,
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", p.Width, p.Height),
		"-c:v", p.Codec,
		"-crf", strconv.Itoa(p.CRF),
		"-preset", p.Preset,
		"-b:v", p.Bitrate,
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		output,
		"-y",
	}
}
