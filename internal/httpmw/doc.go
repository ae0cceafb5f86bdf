// Package httpmw provides HTTP middleware for the public lookup listener.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request ID, trusted host, CORS, client IP, OTel tracing,
// trace response headers, metrics, request logger, then the chi router with
// access log, route annotation and body limits.
//
// Each middleware is an independent function that can be tested, reordered,
// or removed on its own. Headers and query strings supplied by the caller are
// kept out of request-scoped log fields.
package httpmw
