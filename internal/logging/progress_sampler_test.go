package logging

import "testing"

func TestNewProgressSampler(t *testing.T) {
	tests := []struct {
		name       string
		bucketSize float64
		wantSize   float64
	}{
		{"default bucket size for zero", 0, 5},
		{"default bucket size for negative", -1, 5},
		{"custom bucket size", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucketSize)
			if s.bucketSize != tt.wantSize {
				t.Errorf("bucketSize = %v, want %v", s.bucketSize, tt.wantSize)
			}
			if s.lastBucket != -1 {
				t.Errorf("lastBucket = %d, want -1", s.lastBucket)
			}
		})
	}
}

func TestProgressSamplerNilSampler(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog("job", 50) {
		t.Error("ShouldLog on nil sampler should always return true")
	}
	s.Reset()
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(5)
	steps := []struct {
		percent float64
		want    bool
	}{
		{0, true},
		{3, false},
		{5, true},
		{7, false},
		{10, true},
		{100, true},
		{140, false},
	}
	for _, step := range steps {
		if got := s.ShouldLog("a_1", step.percent); got != step.want {
			t.Fatalf("ShouldLog(%v) = %v, want %v", step.percent, got, step.want)
		}
	}
}

func TestProgressSamplerJobChangeResetsBucket(t *testing.T) {
	s := NewProgressSampler(5)
	s.ShouldLog("a_1", 80)
	if !s.ShouldLog("b_2", 10) {
		t.Fatal("new job should log")
	}
	if s.ShouldLog("b_2", 12) {
		t.Fatal("same bucket on the new job should not log")
	}
}

func TestProgressSamplerUnknownPercent(t *testing.T) {
	s := NewProgressSampler(5)
	if !s.ShouldLog("a_1", -1) {
		t.Fatal("first update for a job should log")
	}
	if s.ShouldLog("a_1", -1) {
		t.Fatal("unknown percent should not log again")
	}
	s.Reset()
	if !s.ShouldLog("a_1", -1) {
		t.Fatal("should log after reset")
	}
}
