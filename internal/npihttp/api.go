package npihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-npi/internal/log"
	"github.com/keithlinneman/linnemanlabs-npi/internal/npi"
)

// Client-facing details. Upstream causes are logged, never returned.
const (
	detailInvalidNumber      = "Invalid NPI number format"
	detailUpstreamFailed     = "NPPES API request failed"
	detailUpstreamBadResults = "NPPES API returned error"
)

// Lookuper is implemented by *npi.Client.
type Lookuper interface {
	Lookup(ctx context.Context, number string) (npi.Result, error)
}

// API serves the NPI check endpoint
type API struct {
	lookup Lookuper
	logger log.Logger
}

// NewAPI creates the check endpoint handler
func NewAPI(lookup Lookuper, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		lookup: lookup,
		logger: logger,
	}
}

// RegisterRoutes attaches the lookup endpoint to the router. HEAD runs the
// same lookup; net/http drops the body.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/check-npi", api.HandleCheckNPI)
	r.Head("/check-npi", api.HandleCheckNPI)
}

// FoundResponse is the 200 body for an active match. Names are null when
// the registry record has none.
type FoundResponse struct {
	OK        bool    `json:"ok"`
	Number    string  `json:"number"`
	Type      string  `json:"type"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// NegativeResponse is the 200 body for not_found and inactive.
type NegativeResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
	Number string `json:"number"`
}

// ErrorResponse is the body for 4xx/5xx responses produced by this handler
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HandleCheckNPI validates the number query parameter, looks it up and
// writes the normalized result.
func (api *API) HandleCheckNPI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	number := r.URL.Query().Get("number")

	if err := npi.ValidateNumber(number); err != nil {
		api.writeJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Detail: detailInvalidNumber})
		return
	}

	res, err := api.lookup.Lookup(ctx, number)
	if err != nil {
		api.writeLookupError(ctx, w, number, err)
		return
	}

	switch res.Outcome {
	case npi.OutcomeFound:
		api.writeJSON(ctx, w, http.StatusOK, FoundResponse{
			OK:        true,
			Number:    res.Number,
			Type:      res.EnumerationType,
			FirstName: res.FirstName,
			LastName:  res.LastName,
		})
	case npi.OutcomeNotFound, npi.OutcomeInactive:
		api.writeJSON(ctx, w, http.StatusOK, NegativeResponse{
			OK:     false,
			Reason: res.Outcome.String(),
			Number: res.Number,
		})
	default:
		api.logFor(ctx).Error(ctx, errors.New("unknown lookup outcome"), "lookup returned unknown outcome",
			"npi", number,
			"outcome", int(res.Outcome),
		)
		api.writeJSON(ctx, w, http.StatusInternalServerError, ErrorResponse{Detail: detailUpstreamFailed})
	}
}

// writeLookupError logs the failure once with its cause and writes a generic 500
func (api *API) writeLookupError(ctx context.Context, w http.ResponseWriter, number string, err error) {
	L := api.logFor(ctx)
	detail := detailUpstreamFailed

	var ue *npi.UpstreamError
	switch {
	case errors.As(err, &ue):
		switch ue.Kind {
		case npi.KindUnavailable:
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				// client went away, nobody is waiting for the answer
				L.Warn(ctx, "client disconnected while checking NPI", "npi", number, "error", err)
			} else {
				L.Error(ctx, err, "connection error while checking NPI", "npi", number)
			}
		case npi.KindStatus:
			L.Error(ctx, err, "NPPES API returned error for NPI", "npi", number, "upstream_status", ue.StatusCode)
			detail = detailUpstreamBadResults
		case npi.KindMalformed:
			L.Error(ctx, err, "NPPES API returned malformed response for NPI", "npi", number)
			detail = detailUpstreamBadResults
		default:
			L.Error(ctx, err, "unknown upstream failure while checking NPI", "npi", number)
		}
	case errors.Is(err, npi.ErrInvalidNumber):
		// ValidateNumber above already rejects these, kept for Lookuper implementations that validate differently
		api.writeJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Detail: detailInvalidNumber})
		return
	default:
		L.Error(ctx, err, "unexpected error while checking NPI", "npi", number)
	}

	api.writeJSON(ctx, w, http.StatusInternalServerError, ErrorResponse{Detail: detail})
}

// logFor prefers the request-scoped logger (request id, client address) when middleware set one
func (api *API) logFor(ctx context.Context) log.Logger {
	return log.FromContextOr(ctx, api.logger)
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logFor(ctx).Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
