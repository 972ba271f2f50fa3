package mux

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kbukum/noticemux/observability"
)

const meterName = "github.com/kbukum/noticemux/mux"

// metrics holds the multiplexer's instruments. With the default global
// provider every instrument is a no-op.
type metrics struct {
	attrs       metric.MeasurementOption
	portsActive metric.Int64UpDownCounter
	broadcasts  metric.Int64Counter
	detached    metric.Int64Counter
	reconnects  metric.Int64Counter
	upstream    metric.Int64Counter
}

func newMetrics(name string) (*metrics, error) {
	meter := observability.Meter(meterName)

	portsActive, err := meter.Int64UpDownCounter("mux.ports.active",
		metric.WithDescription("Ports currently attached to a multiplexer"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mux.ports.active: %w", err)
	}

	broadcasts, err := meter.Int64Counter("mux.broadcasts",
		metric.WithDescription("Envelopes broadcast to all ports"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mux.broadcasts: %w", err)
	}

	detached, err := meter.Int64Counter("mux.port.detached",
		metric.WithDescription("Ports detached, by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mux.port.detached: %w", err)
	}

	reconnects, err := meter.Int64Counter("mux.reconnects.scheduled",
		metric.WithDescription("Delayed reopens scheduled after connection errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mux.reconnects.scheduled: %w", err)
	}

	upstream, err := meter.Int64Counter("mux.upstream.errors",
		metric.WithDescription("Upstream errors, by type"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mux.upstream.errors: %w", err)
	}

	return &metrics{
		attrs:       metric.WithAttributes(attribute.String("mux", name)),
		portsActive: portsActive,
		broadcasts:  broadcasts,
		detached:    detached,
		reconnects:  reconnects,
		upstream:    upstream,
	}, nil
}

func (m *metrics) portAttached(ctx context.Context) {
	m.portsActive.Add(ctx, 1, m.attrs)
}

func (m *metrics) portDetached(ctx context.Context, reason string) {
	m.portsActive.Add(ctx, -1, m.attrs)
	m.detached.Add(ctx, 1, m.attrs, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *metrics) broadcast(ctx context.Context) {
	m.broadcasts.Add(ctx, 1, m.attrs)
}

func (m *metrics) reconnectScheduled(ctx context.Context) {
	m.reconnects.Add(ctx, 1, m.attrs)
}

func (m *metrics) upstreamError(ctx context.Context, kind string) {
	m.upstream.Add(ctx, 1, m.attrs, metric.WithAttributes(attribute.String("type", kind)))
}
