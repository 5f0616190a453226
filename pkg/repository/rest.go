package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"github.com/curator-health/curator/pkg/artifact"
)

// RESTConfig configures a REST handle.
type RESTConfig struct {
	// Name identifies the handle.
	Name string `validate:"required"`

	// BaseURL is the root of the remote repository API.
	BaseURL string `validate:"required,url"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// MaxAttempts bounds read and search attempts, including the first.
	MaxAttempts uint

	// InitialInterval is the first retry delay.
	InitialInterval time.Duration

	// MaxInterval caps the retry delay.
	MaxInterval time.Duration

	// Headers are sent with every request.
	Headers map[string]string
}

// DefaultRESTConfig returns retry defaults suitable for interactive use.
func DefaultRESTConfig(name, baseURL string) RESTConfig {
	return RESTConfig{
		Name:            name,
		BaseURL:         baseURL,
		Timeout:         30 * time.Second,
		MaxAttempts:     4,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// REST is a handle speaking the JSON wire format served by Server.
// Reads and searches are retried on transient failures; writes never are.
type REST struct {
	name   string
	cfg    RESTConfig
	client *resty.Client
	logger zerolog.Logger
}

// errorBody is the JSON error document returned by Server.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewREST creates a REST handle.
func NewREST(cfg RESTConfig, logger zerolog.Logger) (*REST, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.BaseURL
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}

	return &REST{
		name:   cfg.Name,
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "repository").Str("repository", cfg.Name).Logger(),
	}, nil
}

// Name implements Handle.
func (r *REST) Name() string {
	return r.name
}

// Close releases the underlying HTTP client.
func (r *REST) Close() error {
	return r.client.Close()
}

// Read implements Reader.
func (r *REST) Read(ctx context.Context, ref artifact.Reference) (artifact.Node, error) {
	node, err := withRetry(ctx, r, "read", func() (artifact.Node, error) {
		var node artifact.Node
		var apiErr errorBody
		req := r.client.R().
			SetContext(ctx).
			SetQueryParam("url", ref.URL).
			SetResult(&node).
			SetError(&apiErr)
		if ref.Version != "" {
			req.SetQueryParam("version", ref.Version)
		}
		resp, err := req.Get("/artifacts/read")
		if err != nil {
			return artifact.Node{}, r.transportError(ctx, "read", err)
		}
		if resp.IsError() {
			return artifact.Node{}, statusError(resp.StatusCode(), apiErr, ref, "read")
		}
		return node, nil
	})
	if err != nil {
		return artifact.Node{}, withReference(err, ref)
	}
	node.Source = r.name
	return node, nil
}

// Search implements Searcher. Pages after the first follow the server's next
// link when the consumer reaches them.
func (r *REST) Search(ctx context.Context, q Query) (*Iterator, error) {
	params := map[string]string{
		"page_size": strconv.Itoa(q.pageSize()),
	}
	for k, v := range map[string]string{"url": q.URL, "version": q.Version, "type": q.Type, "status": q.Status} {
		if v != "" {
			params[k] = v
		}
	}

	first, err := r.fetchPage(ctx, "/artifacts", params)
	if err != nil {
		return nil, err
	}
	return NewIterator(ctx, first, func(ctx context.Context, next string) (Page, error) {
		return r.fetchPage(ctx, next, nil)
	}), nil
}

func (r *REST) fetchPage(ctx context.Context, link string, params map[string]string) (Page, error) {
	page, err := withRetry(ctx, r, "search", func() (Page, error) {
		var page Page
		var apiErr errorBody
		resp, err := r.client.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&page).
			SetError(&apiErr).
			Get(link)
		if err != nil {
			return Page{}, r.transportError(ctx, "search", err)
		}
		if resp.IsError() {
			return Page{}, statusError(resp.StatusCode(), apiErr, artifact.Reference{}, "search")
		}
		return page, nil
	})
	if err != nil {
		return Page{}, err
	}
	for i := range page.Items {
		page.Items[i].Source = r.name
	}
	return page, nil
}

// Write implements Writer. Writes are sent once.
func (r *REST) Write(ctx context.Context, node artifact.Node) (artifact.Node, error) {
	var committed artifact.Node
	var apiErr errorBody
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(node).
		SetResult(&committed).
		SetError(&apiErr).
		Put("/artifacts")
	if err != nil {
		return artifact.Node{}, withReference(r.transportError(ctx, "write", err), node.Reference)
	}
	if resp.IsError() {
		return artifact.Node{}, statusError(resp.StatusCode(), apiErr, node.Reference, "write")
	}
	committed.Source = r.name
	return committed, nil
}

func (r *REST) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return artifact.NewRepositoryError(fmt.Sprintf("%s request to %s failed", op, r.name), err).WithOperation(op)
}

// withRetry runs an idempotent request with bounded exponential backoff.
// Only transient repository errors are retried.
func withRetry[T any](ctx context.Context, r *REST, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	attempt := 0
	v, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !artifact.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		r.logger.Warn().Err(err).Str("operation", op).Int("attempt", attempt).Msg("transient repository failure")
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.cfg.MaxAttempts))

	// The attempt limit is checked before permanence, so the wrapper can escape.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return v, err
}

// statusError maps an HTTP failure to the error taxonomy. 5xx and 429 are
// transient; 404 is not-found; 409 and 412 are conflicts.
func statusError(status int, body errorBody, ref artifact.Reference, op string) error {
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	var e *artifact.Error
	switch {
	case status == http.StatusNotFound:
		e = artifact.NewNotFoundError(ref)
	case status == http.StatusConflict, status == http.StatusPreconditionFailed:
		e = artifact.NewConflictError(msg, nil)
	case status == http.StatusTooManyRequests, status >= 500:
		e = artifact.NewRepositoryError(msg, nil)
	case body.Kind != "":
		e = artifact.NewError(artifact.ErrorKind(body.Kind), msg, nil)
	default:
		e = artifact.NewError(artifact.KindInvalidState, msg, nil)
	}
	if !ref.IsZero() && e.Reference.IsZero() {
		e.Reference = ref
	}
	return e.WithOperation(op).WithDetail("status", status)
}

func withReference(err error, ref artifact.Reference) error {
	if e, ok := err.(*artifact.Error); ok && e.Reference.IsZero() {
		return e.WithReference(ref)
	}
	return err
}
