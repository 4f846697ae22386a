// Package otp generates and compares short numeric one-time codes.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"time"
)

// Defaults used by all call sites.
const (
	DefaultLength = 6
	DefaultTTL    = 10 * time.Minute
)

// Generator produces fixed-length numeric codes with an expiry.
type Generator struct {
	length int
	ttl    time.Duration
	now    func() time.Time
}

// NewGenerator constructs a Generator; non-positive values fall back to defaults.
func NewGenerator(length int, ttl time.Duration) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Generator{length: length, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source (tests).
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate returns a uniformly random numeric code and its absolute expiry.
func (g *Generator) Generate() (string, time.Time, error) {
	ten := big.NewInt(10)
	buf := make([]byte, g.length)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", time.Time{}, err
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), g.now().Add(g.ttl), nil
}

// Match reports whether submitted is exactly the pending code stored. An empty
// stored code never matches. Callers check WellFormed first.
func Match(submitted, stored string) bool {
	if stored == "" || len(submitted) != len(stored) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) == 1
}

// WellFormed reports whether code has the configured length and only ASCII digits.
func (g *Generator) WellFormed(code string) bool {
	if len(code) != g.length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
