package obs

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the counters/histograms the server and client emit. All
// instruments are created once at startup; hot-path code only calls Add.
type Metrics struct {
	CommitsAccepted  metric.Int64Counter
	CommitsDeduped   metric.Int64Counter
	CommitsRejected  metric.Int64Counter
	BroadcastFanout  metric.Int64Counter
	SyncPagesServed  metric.Int64Counter
	SessionsActive   metric.Int64UpDownCounter
	ReconnectAttempts metric.Int64Counter
}

// NewMeterProvider builds a minimal in-process SDK meter provider,
// registering reader (Prometheus, OTLP, a manual reader) when it is
// non-nil; with a nil reader no exporter is attached.
func NewMeterProvider(reader sdkmetric.Reader) *sdkmetric.MeterProvider {
	opts := []sdkmetric.Option{}
	if reader != nil {
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	return sdkmetric.NewMeterProvider(opts...)
}

// NewMetrics creates every instrument against the given meter.
func NewMetrics(mp *sdkmetric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("sync-engine")

	m := &Metrics{}
	var err error
	if m.CommitsAccepted, err = meter.Int64Counter("sync_engine.commits.accepted"); err != nil {
		return nil, fmt.Errorf("obs: %w", err)
	}
	if m.CommitsDeduped, err = meter.Int64Counter("sync_engine.commits.deduped"); err != nil {
		return nil, fmt.Errorf("obs: %w", err)
	}
	if m.CommitsRejected, err = meter.Int64Counter("sync_engine.commits.rejected"); err != nil {
		return nil, fmt.Errorf("obs: %w", err)
	}
	if m.BroadcastFanout, err = meter.Int64Counter("sync_engine.broadcast.fanout"); err != nil {
		return nil, fmt.Errorf("obs: %w", err)
	}
	if m.SyncPagesServed, err = meter.Int64Counter("sync_engine.sync.pages_served"); err != nil {
		return nil, fmt.Errorf("obs: %w", err)
	}
	if m.SessionsActive, err = meter.Int64UpDownCounter("sync_engine.sessions.active"); err != nil {
		return nil, fmt.Errorf("obs: %w", err)
	}
	if m.ReconnectAttempts, err = meter.Int64Counter("sync_engine.client.reconnect_attempts"); err != nil {
		return nil, fmt.Errorf("obs: %w", err)
	}
	return m, nil
}
