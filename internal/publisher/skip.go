package publisher

import (
	"crypto/rand"
	"io"
	"math/big"
)

// DefaultSkipProbability is the share of timer runs that publish nothing.
const DefaultSkipProbability = 0.10

const skipResolution = 1_000_000

// SkipPolicy is an independent Bernoulli trial per run.
type SkipPolicy struct {
	threshold int64 // out of skipResolution
	src       io.Reader
}

// NewSkipPolicy clamps p to [0,1]; src nil means crypto/rand.
func NewSkipPolicy(p float64, src io.Reader) *SkipPolicy {
	if src == nil {
		src = rand.Reader
	}
	p = min(max(p, 0), 1)
	return &SkipPolicy{threshold: int64(p * skipResolution), src: src}
}

func (s *SkipPolicy) Probability() float64 {
	if s == nil {
		return 0
	}
	return float64(s.threshold) / skipResolution
}

// ShouldSkip reports whether this run should be skipped. A randomness
// failure answers false so the loop keeps publishing.
func (s *SkipPolicy) ShouldSkip() bool {
	if s == nil || s.threshold <= 0 {
		return false
	}
	if s.threshold >= skipResolution {
		return true
	}
	n, err := rand.Int(s.src, big.NewInt(skipResolution))
	if err != nil {
		return false
	}
	return n.Int64() < s.threshold
}
