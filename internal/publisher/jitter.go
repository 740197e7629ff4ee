package publisher

import (
	"crypto/rand"
	"io"
	"math/big"
	"time"
)

// Jitter draws uniformly distributed delays from a cryptographic source.
type Jitter struct {
	src io.Reader
}

// NewJitter uses crypto/rand when src is nil.
func NewJitter(src io.Reader) *Jitter {
	if src == nil {
		src = rand.Reader
	}
	return &Jitter{src: src}
}

// Delay returns a duration in [min, max] minutes, both ends inclusive, at
// millisecond resolution. Negative bounds clamp to zero and swapped bounds
// are reordered. The error is non-nil only when the source fails.
func (j *Jitter) Delay(minMinutes, maxMinutes int) (time.Duration, error) {
	w := Window{MinMinutes: minMinutes, MaxMinutes: maxMinutes}.Normalize()
	lo := int64(w.MinMinutes) * 60_000
	hi := int64(w.MaxMinutes) * 60_000

	n, err := rand.Int(j.src, big.NewInt(hi-lo+1))
	if err != nil {
		return 0, err
	}
	return time.Duration(lo+n.Int64()) * time.Millisecond, nil
}
