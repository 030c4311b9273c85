// Package observe provides OpenTelemetry metric instruments for go-avatar.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to a
// Prometheus exporter by [InitProvider], so they can be scraped from the web
// server's /metrics endpoint. Tests should use [NewMetrics] with their own
// [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/teslashibe/go-avatar"

// Metrics holds all metric instruments. Safe for concurrent use.
type Metrics struct {
	// TrackingFrames counts tracking ticks that produced a frame.
	TrackingFrames metric.Int64Counter

	// TrackingFrameErrors counts inference calls that failed and were skipped.
	TrackingFrameErrors metric.Int64Counter

	// AudioChunksSent counts microphone blocks forwarded to the session.
	AudioChunksSent metric.Int64Counter

	// AudioChunksReceived counts inbound audio payloads, by attribute
	// "status" ("scheduled" or "dropped").
	AudioChunksReceived metric.Int64Counter

	// Interruptions counts interrupted signals from the remote session.
	Interruptions metric.Int64Counter

	// StreamErrors counts fatal stream errors.
	StreamErrors metric.Int64Counter

	// PlaybackQueue records how far ahead of the device clock audio is
	// scheduled, in seconds, each time a chunk is scheduled.
	PlaybackQueue metric.Float64Histogram

	// RendererClients tracks connected renderer websocket clients.
	RendererClients metric.Int64UpDownCounter
}

var queueBuckets = []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// NewMetrics creates a Metrics using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TrackingFrames, err = m.Int64Counter("avatar.tracking.frames",
		metric.WithDescription("Tracking ticks that produced a frame."),
	); err != nil {
		return nil, err
	}
	if met.TrackingFrameErrors, err = m.Int64Counter("avatar.tracking.frame_errors",
		metric.WithDescription("Inference failures skipped by the tracking loop."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksSent, err = m.Int64Counter("avatar.audio.chunks_sent",
		metric.WithDescription("Microphone blocks forwarded to the remote session."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksReceived, err = m.Int64Counter("avatar.audio.chunks_received",
		metric.WithDescription("Inbound audio payloads by status."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("avatar.audio.interruptions",
		metric.WithDescription("Interrupted signals received from the remote session."),
	); err != nil {
		return nil, err
	}
	if met.StreamErrors, err = m.Int64Counter("avatar.audio.stream_errors",
		metric.WithDescription("Fatal remote stream errors."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueue, err = m.Float64Histogram("avatar.audio.playback_queue",
		metric.WithDescription("Scheduled audio ahead of the device clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(queueBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RendererClients, err = m.Int64UpDownCounter("avatar.web.renderer_clients",
		metric.WithDescription("Connected renderer websocket clients."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics built from the global
// meter provider. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordChunkReceived is a convenience for the inbound audio counter.
func (m *Metrics) RecordChunkReceived(ctx context.Context, status string) {
	m.AudioChunksReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
