// Package npi validates National Provider Identifiers and looks them up in the
// public NPPES registry.
//
// A lookup is a single GET against the registry with no retries. The registry
// document is decoded leniently: unknown fields are skipped, missing or null
// fields are treated as absent, and only the first match is ever considered
// even when the registry returns several.
//
// Failures talking to the registry are returned as *UpstreamError values so
// callers can switch on the Kind without inspecting strings.
package npi
