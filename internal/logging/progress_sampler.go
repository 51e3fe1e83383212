package logging

// ProgressSampler suppresses repetitive progress logs. It emits when a new
// job starts or when the percentage crosses into a new bucket.
type ProgressSampler struct {
	bucketSize float64
	lastJob    string
	lastBucket int
}

// NewProgressSampler constructs a sampler with the given bucket width in
// percent; non-positive widths default to 5.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress update for jobID at percent should be
// logged. Negative percentages mean unknown and only count as a job change.
func (s *ProgressSampler) ShouldLog(jobID string, percent float64) bool {
	if s == nil {
		return true
	}
	emit := false
	if jobID != s.lastJob {
		s.lastJob = jobID
		s.lastBucket = -1
		emit = true
	}
	if percent < 0 {
		return emit
	}
	if percent > 100 {
		percent = 100
	}
	if bucket := int(percent / s.bucketSize); bucket > s.lastBucket {
		s.lastBucket = bucket
		emit = true
	}
	return emit
}

// Reset forgets the last job and bucket.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastJob = ""
	s.lastBucket = -1
}
