package upstream

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/observability"
)

type httpStream struct {
	cancel  context.CancelFunc
	handler Handler
	log     *logger.Logger
	closed  atomic.Bool

	mu     sync.RWMutex
	events map[string]struct{}
}

func newHTTPStream(cancel context.CancelFunc, h Handler, log *logger.Logger) *httpStream {
	return &httpStream{
		cancel:  cancel,
		handler: h,
		log:     log,
		events:  make(map[string]struct{}),
	}
}

// Listen starts delivering events named name.
func (s *httpStream) Listen(name string) {
	if name == "" || name == EventMessage {
		return
	}
	s.mu.Lock()
	s.events[name] = struct{}{}
	s.mu.Unlock()
}

// Close cancels the request. Callbacks stop immediately.
func (s *httpStream) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.cancel()
	}
	return nil
}

func (s *httpStream) listening(name string) bool {
	if name == EventMessage {
		return true
	}
	s.mu.RLock()
	_, ok := s.events[name]
	s.mu.RUnlock()
	return ok
}

func (s *httpStream) fail(err error) {
	if s.closed.Load() {
		return
	}
	s.log.Debug("upstream stream failed", map[string]interface{}{logger.FieldError: err.Error()})
	s.handler.OnError(err)
}

func (s *httpStream) run(ctx context.Context, client *http.Client, req *http.Request) {
	defer s.cancel()

	body, err := s.open(ctx, client, req)
	if err != nil {
		s.fail(err)
		return
	}
	if s.closed.Load() {
		_ = body.Close()
		return
	}
	s.handler.OnOpen()

	r := NewReader(body)
	defer r.Close()

	for {
		ev, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrStreamEnded
			}
			s.fail(err)
			return
		}
		if s.closed.Load() {
			return
		}
		if ev.Control {
			s.handler.OnControl(ev)
			continue
		}
		name := ev.Name()
		if !s.listening(name) {
			if ev.ID != "" || ev.Retry > 0 {
				s.handler.OnControl(&Event{ID: ev.ID, Retry: ev.Retry, Control: true})
			}
			continue
		}
		s.handler.OnEvent(name, ev)
	}
}

// open performs the request inside an upstream.open span and checks the
// response is an event stream.
func (s *httpStream) open(ctx context.Context, client *http.Client, req *http.Request) (io.ReadCloser, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanUpstreamOpen)
	defer span.End()
	span.SetAttributes(attribute.String(observability.AttrURL, req.URL.String()))

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		err = transportError(err)
		observability.SetSpanError(ctx, err)
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		err := statusError(resp.StatusCode)
		observability.SetSpanError(ctx, err)
		return nil, err
	}

	ct := resp.Header.Get("Content-Type")
	if mt, _, perr := mime.ParseMediaType(ct); perr != nil || mt != "text/event-stream" {
		_ = resp.Body.Close()
		err := contentTypeError(ct)
		observability.SetSpanError(ctx, err)
		return nil, err
	}

	return resp.Body, nil
}
