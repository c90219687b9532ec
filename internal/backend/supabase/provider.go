// Package supabase is the hosted backend adapter. It speaks the GoTrue auth
// API (/auth/v1) and the PostgREST data API (/rest/v1) with the project's
// anon key, keeping one session per client.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
	"github.com/shelfnotes/shelfnotes-server/internal/ratelimit"
)

const clientInfo = "shelfnotes-server/1"

// Options configures the hosted provider.
type Options struct {
	URL     string
	AnonKey string
	// RequestsPerSecond paces outbound calls to the project. Zero disables pacing.
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Provider holds the HTTP plumbing shared by every hosted client.
type Provider struct {
	base    *url.URL
	anonKey string
	http    *http.Client
	limiter *ratelimit.Keyed
	logger  *slog.Logger
	now     func() time.Time
}

var _ backend.Provider = (*Provider)(nil)

// New validates opts and creates a provider. No request is made.
func New(opts Options) (*Provider, error) {
	if opts.URL == "" || opts.AnonKey == "" {
		return nil, domainerrors.Validation("supabase URL and anon key are required")
	}
	base, err := url.Parse(strings.TrimRight(opts.URL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, domainerrors.Validationf("invalid supabase URL %q", opts.URL)
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Provider{
		base:    base,
		anonKey: opts.AnonKey,
		http:    client,
		logger:  logger,
		now:     time.Now,
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = ratelimit.New(opts.RequestsPerSecond, burst)
	}
	return p, nil
}

// Name identifies the backend in the instance endpoint.
func (p *Provider) Name() string { return "supabase" }

// NewClient returns a client with its own signed-out session.
func (p *Provider) NewClient() (*backend.Client, error) {
	a := &authClient{p: p, events: backend.NewBroadcaster()}
	return &backend.Client{
		Auth: a,
		DB:   &restStore{p: p, auth: a},
	}, nil
}

// Close stops the outbound limiter.
func (p *Provider) Close() error {
	if p.limiter != nil {
		p.limiter.Stop()
	}
	p.http.CloseIdleConnections()
	return nil
}

// request is one outbound call.
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	// bearer overrides the anon key in the Authorization header.
	bearer string
	header http.Header
}

// response is a fully read reply.
type response struct {
	status int
	header http.Header
	body   []byte
}

// errTransport marks failures to reach the project at all.
var errTransport = errors.New("supabase unreachable")

func (p *Provider) do(ctx context.Context, r request) (*response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, p.base.Host); err != nil {
			return nil, fmt.Errorf("%w: %w", errTransport, err)
		}
	}

	u := *p.base
	u.Path = strings.TrimRight(u.Path, "/") + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "encode request body")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "build request")
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	bearer := r.bearer
	if bearer == "" {
		bearer = p.anonKey
	}
	req.Header.Set("apikey", p.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("X-Client-Info", clientInfo)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	start := p.now()
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", errTransport, err)
	}

	p.logger.Debug("supabase request",
		"method", r.method,
		"path", r.path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get("X-Request-Id"),
		"duration_ms", p.now().Sub(start).Milliseconds(),
	)

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// apiError is the union of the GoTrue and PostgREST error bodies.
type apiError struct {
	Status int `json:"-"`

	// PostgREST: code is a string such as "23505" or "PGRST116".
	// GoTrue: code is the numeric HTTP status, error_code the reason.
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	ErrName          string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Details          string          `json:"details"`
	Hint             string          `json:"hint"`
}

func parseAPIError(resp *response) *apiError {
	e := &apiError{Status: resp.status}
	//nolint:errcheck // a non-JSON body leaves only the status
	_ = json.Unmarshal(resp.body, e)
	return e
}

// text returns the most specific human message in the body.
func (e *apiError) text() string {
	for _, s := range []string{e.Msg, e.ErrorDescription, e.Message, e.ErrName} {
		if s != "" {
			return s
		}
	}
	return http.StatusText(e.Status)
}

// code returns the string error code, from either dialect.
func (e *apiError) code() string {
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	var s string
	if json.Unmarshal(e.Code, &s) == nil {
		return s
	}
	return ""
}
