// Package health provides the liveness and readiness probes served on the
// admin listener.
//
// Probes compose with [All]. [ShutdownGate] fails readiness as soon as a
// drain starts so load balancers stop routing lookups before the public
// listener closes; [Flag] holds readiness false until startup completes.
package health
