package wire

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kbukum/noticemux/errors"
	"github.com/kbukum/noticemux/validation"
)

// Defaults applied to init options that leave a field unset.
const (
	DefaultRetryInterval = 5000 * time.Millisecond
)

// InitOptions is the payload of an init envelope as sent by a consumer.
// Pointer fields distinguish "not set" from an explicit zero value.
type InitOptions struct {
	SSEURL          string            `json:"sseUrl" validate:"required"`
	Events          []string          `json:"events,omitempty"`
	RetryInterval   *int              `json:"retryInterval,omitempty" validate:"omitempty,min=0"`
	WithCredentials *bool             `json:"withCredentials,omitempty"`
	AutoReconnect   *bool             `json:"autoReconnect,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
}

// Options is the normalized form of InitOptions.
type Options struct {
	URL             string
	WithCredentials bool
	RetryInterval   time.Duration
	AutoReconnect   bool
	Events          []string
	// HeadersIgnored is set when the consumer asked for custom request
	// headers, which the shared transport does not send.
	HeadersIgnored bool
}

// Endpoint is the logical endpoint identity: two init requests may share
// one connection only when their endpoints are equal.
type Endpoint struct {
	URL             string
	WithCredentials bool
}

// Endpoint returns the identity part of the options.
func (o Options) Endpoint() Endpoint {
	return Endpoint{URL: o.URL, WithCredentials: o.WithCredentials}
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s (credentials=%t)", e.URL, e.WithCredentials)
}

// DecodeInitOptions decodes the data of an init envelope. The data may be a
// raw JSON message, an InitOptions value or a pointer to one.
func DecodeInitOptions(data any) (InitOptions, error) {
	switch v := data.(type) {
	case InitOptions:
		return v, nil
	case *InitOptions:
		if v == nil {
			return InitOptions{}, nil
		}
		return *v, nil
	case json.RawMessage:
		var opts InitOptions
		if len(v) == 0 {
			return opts, nil
		}
		if err := json.Unmarshal(v, &opts); err != nil {
			return InitOptions{}, err
		}
		return opts, nil
	case nil:
		return InitOptions{}, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return InitOptions{}, err
		}
		var opts InitOptions
		if err := json.Unmarshal(raw, &opts); err != nil {
			return InitOptions{}, err
		}
		return opts, nil
	}
}

// Normalize validates opts, applies defaults and resolves the URL against
// origin. origin may be empty, in which case the URL must be absolute.
// Failures are CONFIGURATION errors.
func Normalize(opts InitOptions, origin string) (Options, *errors.AppError) {
	opts.SSEURL = strings.TrimSpace(opts.SSEURL)
	if opts.SSEURL == "" {
		return Options{}, errors.Configuration("SSE URL is required")
	}
	if err := validation.Validate(opts); err != nil {
		appErr := errors.From(err)
		return Options{}, errors.Configuration(appErr.Message).WithCause(err)
	}

	resolved, err := ResolveURL(origin, opts.SSEURL)
	if err != nil {
		return Options{}, errors.Configuration(err.Error()).WithCause(err)
	}

	out := Options{
		URL:            resolved,
		RetryInterval:  DefaultRetryInterval,
		Events:         normalizeEvents(opts.Events),
		HeadersIgnored: len(opts.Headers) > 0,
	}
	if opts.RetryInterval != nil {
		out.RetryInterval = time.Duration(*opts.RetryInterval) * time.Millisecond
	}
	if opts.WithCredentials != nil {
		out.WithCredentials = *opts.WithCredentials
	}
	if opts.AutoReconnect != nil {
		out.AutoReconnect = *opts.AutoReconnect
	}
	return out, nil
}

// ResolveURL resolves ref relative to origin.
func ResolveURL(origin, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid SSE URL %q: %w", ref, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if origin == "" {
		return "", fmt.Errorf("relative SSE URL %q needs an origin", ref)
	}
	base, err := url.Parse(origin)
	if err != nil || !base.IsAbs() {
		return "", fmt.Errorf("invalid origin %q", origin)
	}
	return base.ResolveReference(u).String(), nil
}

// normalizeEvents trims names, drops empties and duplicates, keeping the
// first-seen order.
func normalizeEvents(events []string) []string {
	if len(events) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(events))
	out := make([]string, 0, len(events))
	for _, name := range events {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
