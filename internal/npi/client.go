package npi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-npi/internal/log"
	"github.com/keithlinneman/linnemanlabs-npi/internal/xerrors"
)

const (
	// DefaultBaseURL is the public NPPES registry API.
	DefaultBaseURL = "https://npiregistry.cms.hhs.gov/api/"

	// APIVersion is sent as the version query parameter on every lookup.
	APIVersion = "2.1"

	DefaultTimeout      = 5 * time.Second
	DefaultMaxConns     = 10
	DefaultMaxIdleConns = 5

	// keep-alive connections are dropped after this much idle time
	defaultIdleConnTimeout = 5 * time.Second
)

// Observer receives one call per lookup with the outcome label and duration.
type Observer interface {
	ObserveLookup(outcome string, seconds float64)
}

type Options struct {
	BaseURL      string
	Timeout      time.Duration
	MaxConns     int
	MaxIdleConns int
	UserAgent    string
	Logger       log.Logger
	Observer     Observer
}

// Client looks up numbers in the registry. It is safe for concurrent use;
// all lookups share one connection pool.
type Client struct {
	baseURL   string
	http      *resty.Client
	transport *http.Transport
	observer  Observer
}

// NewClient builds a Client with a bounded connection pool. Zero values in
// opts fall back to the package defaults.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = DefaultMaxConns
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = DefaultMaxIdleConns
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "linnemanlabs-npi"
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxConnsPerHost = opts.MaxConns
	tr.MaxIdleConns = opts.MaxIdleConns
	tr.MaxIdleConnsPerHost = opts.MaxIdleConns
	tr.IdleConnTimeout = defaultIdleConnTimeout

	rc := resty.New().
		SetTransport(otelhttp.NewTransport(tr)).
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetLogger(restyLogger{L: opts.Logger}).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", opts.UserAgent)

	return &Client{
		baseURL:   opts.BaseURL,
		http:      rc,
		transport: tr,
		observer:  opts.Observer,
	}
}

// Lookup validates number and fetches it from the registry with a single
// request. Registry failures are returned as *UpstreamError. NotFound and
// Inactive are results, not errors.
func (c *Client) Lookup(ctx context.Context, number string) (Result, error) {
	if err := ValidateNumber(number); err != nil {
		return Result{}, err
	}

	ctx, span := otel.Tracer("linnemanlabs/npi").Start(ctx, "npi.registry.lookup",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("npi.number", number)),
	)
	defer span.End()

	start := time.Now()
	res, err := c.lookup(ctx, number)
	outcome := outcomeLabel(res, err)
	if c.observer != nil {
		c.observer.ObserveLookup(outcome, time.Since(start).Seconds())
	}

	span.SetAttributes(attribute.String("npi.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return res, err
}

func (c *Client) lookup(ctx context.Context, number string) (Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"version": APIVersion,
			"number":  number,
		}).
		Get(c.baseURL)
	if err != nil {
		return Result{}, &UpstreamError{Kind: KindUnavailable, Err: xerrors.Wrap(err, "registry GET")}
	}

	if !resp.IsSuccess() {
		return Result{}, &UpstreamError{
			Kind:       KindStatus,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("registry status %d", resp.StatusCode()),
		}
	}

	doc, err := DecodeRegistry(resp.Body())
	if err != nil {
		return Result{}, &UpstreamError{Kind: KindMalformed, Err: err}
	}
	return MapResult(number, doc), nil
}

// CloseIdleConnections releases pooled keep-alive connections, used on shutdown.
func (c *Client) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
}

func outcomeLabel(res Result, err error) string {
	if err == nil {
		return res.Outcome.String()
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind.String()
	}
	return "error"
}

// restyLogger routes resty's internal warnings into our logger.
type restyLogger struct {
	L log.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.L.Error(context.Background(), xerrors.Newf(format, v...), "resty client error")
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.L.Warn(context.Background(), fmt.Sprintf(format, v...), "component", "resty")
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.L.Debug(context.Background(), fmt.Sprintf(format, v...), "component", "resty")
}
