package health

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-npi/internal/xerrors"
)

// Probe is evaluated at request time: nil is healthy, an error carries the
// reason.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes only if every non-nil probe passes and returns the first error.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// ShutdownGate flips readiness to false during drain/shutdown.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

func (g *ShutdownGate) Set(reason string) {
	g.reason.Store(reason)
	g.draining.Store(true)
}

func (g *ShutdownGate) Clear() {
	g.draining.Store(false)
	g.reason.Store("")
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}

// Flag is a readiness switch that starts out failing with its reason.
type Flag struct {
	ok     atomic.Bool
	reason string
}

func NewFlag(reason string) *Flag {
	if reason == "" {
		reason = "not ready"
	}
	return &Flag{reason: reason}
}

func (f *Flag) Set(ok bool) { f.ok.Store(ok) }

func (f *Flag) Check(context.Context) error {
	if f.ok.Load() {
		return nil
	}
	return xerrors.New(f.reason)
}
