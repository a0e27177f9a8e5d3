// Package backoff computes retry delays after consecutive remote failures.
package backoff

import (
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// MaxExponent caps the failure count before exponentiation.
const MaxExponent = 10

// Policy computes rand(0, 2^min(n, MaxExponent)) * Step + Base.
type Policy struct {
	Base        time.Duration
	Step        time.Duration
	MaxExponent int

	// Int64N returns a value in [0, n). Defaults to math/rand/v2.
	Int64N func(n int64) int64
}

// Default is the policy used for credential refreshes: always at least 10s,
// at most about 2h50m.
func Default() Policy {
	return Policy{
		Base:        10 * time.Second,
		Step:        10 * time.Second,
		MaxExponent: MaxExponent,
	}
}

// Delay returns the retry delay after failures consecutive failures.
func (p Policy) Delay(failures int) time.Duration {
	n := int64(1) << p.exponent(failures)
	r := p.Int64N
	if r == nil {
		r = rand.Int64N
	}
	return time.Duration(r(n))*p.Step + p.Base
}

// Ceiling returns the exclusive upper bound of Delay(failures).
func (p Policy) Ceiling(failures int) time.Duration {
	return time.Duration(int64(1)<<p.exponent(failures))*p.Step + p.Base
}

func (p Policy) exponent(failures int) int {
	maxExp := p.MaxExponent
	if maxExp <= 0 || maxExp > 30 {
		maxExp = MaxExponent
	}
	switch {
	case failures < 0:
		return 0
	case failures > maxExp:
		return maxExp
	}
	return failures
}

// Streak counts consecutive failures. The zero value is ready to use.
type Streak struct {
	n atomic.Int64
}

// Fail records a failure and returns the count before it was recorded.
func (s *Streak) Fail() int {
	return int(s.n.Add(1) - 1)
}

// Reset clears the streak after a success.
func (s *Streak) Reset() {
	s.n.Store(0)
}

// Count returns the current number of consecutive failures.
func (s *Streak) Count() int {
	return int(s.n.Load())
}
