package phone

import (
	"context"

	"github.com/cespare/xxhash/v2"
)

// Checker decides whether a number can receive WhatsApp messages.
// Implementations must not block indefinitely and never fail the caller.
type Checker interface {
	CheckWhatsApp(ctx context.Context, e164 string) bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, e164 string) bool

func (f CheckerFunc) CheckWhatsApp(ctx context.Context, e164 string) bool {
	return f(ctx, e164)
}

// Probe is a deterministic stand-in for a provider lookup: a number is treated
// as WhatsApp-capable when its hash bucket falls under Percent. The same number
// always yields the same answer.
type Probe struct {
	Percent int
}

// NewProbe builds a probe; percent is clamped to [0, 100].
func NewProbe(percent int) *Probe {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return &Probe{Percent: percent}
}

var _ Checker = (*Probe)(nil)

func (p *Probe) CheckWhatsApp(_ context.Context, e164 string) bool {
	if p == nil || !IsE164(e164) {
		return false
	}
	return int(xxhash.Sum64String(e164)%100) < p.Percent
}
