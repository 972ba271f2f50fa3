package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/kbukum/noticemux/logger"
)

// EventMessage is the dispatch name of unnamed events.
const EventMessage = "message"

// Request identifies one upstream event stream.
type Request struct {
	// URL is the endpoint, absolute or relative to the dialer's origin.
	URL string
	// WithCredentials sends the cookie jar with the request.
	WithCredentials bool
	// LastEventID is sent as Last-Event-ID when non-empty.
	LastEventID string
	// Events are named events listened for from the start.
	Events []string
}

// Handler receives stream callbacks. Callbacks arrive on the stream's own
// goroutine, one at a time, and stop once the stream is closed.
type Handler interface {
	// OnOpen is called once the server accepted the stream.
	OnOpen()
	// OnEvent is called for every message event and every named event the
	// stream is listening for.
	OnEvent(name string, ev *Event)
	// OnControl is called with the ID and retry of blocks that are not
	// delivered: data-less blocks and named events nobody listens for.
	OnControl(ev *Event)
	// OnError is called once when the stream fails. No callbacks follow it.
	OnError(err error)
}

// Stream is a live upstream connection.
type Stream interface {
	// Listen starts delivering events with the given name.
	Listen(name string)
	// Close tears the connection down. It is idempotent and suppresses any
	// further callbacks.
	Close() error
}

// Dialer opens upstream streams. Dial returns as soon as the request is
// built; connection progress is reported through the Handler. A returned
// error means the stream could not be constructed at all.
type Dialer interface {
	Dial(ctx context.Context, req Request, h Handler) (Stream, error)
}

// HTTPDialer opens SSE streams over net/http.
type HTTPDialer struct {
	cfg          Config
	origin       *url.URL
	anonymous    *http.Client
	credentialed *http.Client
	log          *logger.Logger
}

// Option customizes an HTTPDialer.
type Option func(*dialerOptions)

type dialerOptions struct {
	transport http.RoundTripper
	jar       http.CookieJar
}

// WithTransport overrides the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *dialerOptions) { o.transport = rt }
}

// WithCookieJar overrides the jar used by credentialed streams.
func WithCookieJar(jar http.CookieJar) Option {
	return func(o *dialerOptions) { o.jar = jar }
}

// NewHTTPDialer creates a dialer from configuration.
func NewHTTPDialer(cfg Config, log *logger.Logger, opts ...Option) (*HTTPDialer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.WithComponent("upstream")
	}

	var o dialerOptions
	for _, opt := range opts {
		opt(&o)
	}

	transport := o.transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = cfg.ConnectTimeout
		transport = t
	}

	var origin *url.URL
	if cfg.Origin != "" {
		u, err := url.Parse(cfg.Origin)
		if err != nil {
			return nil, fmt.Errorf("upstream: invalid origin: %w", err)
		}
		origin = u
	}

	jar := o.jar
	if jar == nil {
		j, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("upstream: cookie jar: %w", err)
		}
		jar = j
	}
	if origin != nil && len(cfg.Cookies) > 0 {
		cookies := make([]*http.Cookie, 0, len(cfg.Cookies))
		for name, value := range cfg.Cookies {
			cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
		}
		jar.SetCookies(origin, cookies)
	}

	// Streams have no overall client timeout; the context ends them.
	return &HTTPDialer{
		cfg:          cfg,
		origin:       origin,
		anonymous:    &http.Client{Transport: transport},
		credentialed: &http.Client{Transport: transport, Jar: jar},
		log:          log,
	}, nil
}

// Resolve returns the absolute URL for ref against the configured origin.
func (d *HTTPDialer) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if d.origin != nil {
		u = d.origin.ResolveReference(u)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("relative URL %q without origin", ref)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Dial builds the request and starts the stream goroutine.
func (d *HTTPDialer) Dial(ctx context.Context, req Request, h Handler) (Stream, error) {
	target, err := d.Resolve(req.URL)
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("upstream: create request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if req.LastEventID != "" {
		httpReq.Header.Set("Last-Event-ID", req.LastEventID)
	}

	client := d.anonymous
	if req.WithCredentials {
		client = d.credentialed
	}

	s := newHTTPStream(cancel, h, d.log.WithFields(map[string]interface{}{
		logger.FieldURL: target,
	}))
	for _, name := range req.Events {
		s.Listen(name)
	}
	go s.run(streamCtx, client, httpReq)
	return s, nil
}
