// Package ratelimit provides per-IP fixed-window rate limiting for the public
// lookup route, with background eviction of idle entries and a cap on the
// number of tracked addresses.
//
// State is in-memory and local to one process. Replicas behind a load
// balancer each enforce their own budget; shared limits belong upstream
// (WAF, CDN) and are out of scope here.
package ratelimit
