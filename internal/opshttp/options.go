package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-npi/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// AllowPublic disables the private-network guard, for local runs only.
	AllowPublic bool

	UseRecoverMW bool
	OnPanic      func() // called per recovered panic, e.g. a prometheus counter
}
