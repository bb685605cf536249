package logging

import (
	"strings"
	"sync"
)

// ProgressSampler suppresses repetitive progress logs while preserving signal
// when a phase changes or the percent crosses a bucket boundary. Each key (a
// plugin identity) is tracked independently so interleaved streams never
// suppress each other.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize float64
	keys       map[string]*samplerState
}

type samplerState struct {
	phase  string
	bucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 5%) or when the phase changes.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, keys: make(map[string]*samplerState)}
}

// ShouldLog reports whether a progress event for key should be logged.
// Percent can be negative to indicate "unknown"; phase is trimmed before
// comparison. Status text is deliberately not part of the decision since it
// often carries volatile fields.
func (s *ProgressSampler) ShouldLog(key string, percent float64, phase string) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.keys[key]
	if !ok {
		state = &samplerState{bucket: -1}
		s.keys[key] = state
	}
	phase = strings.TrimSpace(phase)
	emit := false
	if phase != "" && phase != state.phase {
		state.phase = phase
		state.bucket = -1
		emit = true
	}
	if percent >= 0 {
		bucket := int(percent / s.bucketSize)
		if percent >= 100 {
			bucket = int(100 / s.bucketSize)
		}
		if bucket > state.bucket {
			state.bucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset forgets key, or every key when key is empty.
func (s *ProgressSampler) Reset(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		clear(s.keys)
		return
	}
	delete(s.keys, key)
}
