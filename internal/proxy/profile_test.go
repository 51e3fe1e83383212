package proxy

import (
	"slices"
	"testing"
)

func TestLookup(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "720p", want: "720p", ok: true},
		{in: " 1080P ", want: "1080p", ok: true},
		{in: "", want: DefaultProfile, ok: true},
		{in: "4k", ok: false},
	}
	for _, tc := range cases {
		p, ok := Lookup(tc.in)
		if ok != tc.ok || p.Name != tc.want {
			t.Fatalf("Lookup(%q) = %q, %v", tc.in, p.Name, ok)
		}
	}
}

func TestProfilesOrderedByHeight(t *testing.T) {
	if got := Names(); !slices.Equal(got, []string{"480p", "720p", "1080p"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestArgs(t *testing.T) {
	p, _ := Lookup("1080p")
	args := p.Args("/in/clip.mov", "/out/x_1080p.part.mp4")
	want := []string{
		"-i", "/in/clip.mov",
		"-vf", "scale=1920:1080:force_original_aspect_ratio=decrease",
		"-c:v", "libx265",
		"-crf", "26",
		"-preset", "medium",
		"-b:v", "4M",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"/out/x_1080p.part.mp4",
		"-y",
	}
	if !slices.Equal(args, want) {
		t.Fatalf("unexpected args\n got %v\nwant %v", args, want)
	}
}

func TestOutputPathAndLabel(t *testing.T) {
	p, _ := Lookup("480p")
	if got := p.OutputPath("abc"); got != "assets/proxies/abc_480p.mp4" {
		t.Fatalf("unexpected output path %s", got)
	}
	if got := p.Label(); got != "480p (854x480, libx264, Fast)" {
		t.Fatalf("unexpected label %s", got)
	}
}
