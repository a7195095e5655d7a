// Package telemetry wires optional OTel metrics for the workflow engine.
// Disabled by default; when off, every recording call is a no-op with no
// allocation beyond the atomic read.
package telemetry

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const scopeName = "github.com/transpouce/poucet"

var (
	enabled  atomic.Bool
	provider *sdkmetric.MeterProvider

	initOnce    sync.Once
	transitions metric.Int64Counter
	storeErrors metric.Int64Counter
)

// Enabled reports whether telemetry was initialized.
func Enabled() bool { return enabled.Load() }

// Init installs a stdout meter provider. Call once at process start; no-op
// when enable is false.
func Init(enable bool) {
	if !enable {
		return
	}
	initOnce.Do(func() {
		exporter, err := stdoutmetric.New()
		if err != nil {
			log.Printf("telemetry: exporter init failed: %v", err)
			return
		}
		provider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(time.Minute))),
		)
		otel.SetMeterProvider(provider)

		m := otel.Meter(scopeName)
		transitions, _ = m.Int64Counter("poucet.onboarding.transitions",
			metric.WithDescription("Workflow transitions processed"),
		)
		storeErrors, _ = m.Int64Counter("poucet.store.errors",
			metric.WithDescription("Persistent store failures"),
		)
		enabled.Store(true)
	})
}

// Shutdown flushes pending metrics.
func Shutdown(ctx context.Context) {
	if provider == nil {
		return
	}
	if err := provider.Shutdown(ctx); err != nil {
		log.Printf("telemetry: shutdown: %v", err)
	}
}

// RecordTransition counts one workflow transition and its outcome.
func RecordTransition(ctx context.Context, transition string, err error) {
	if !Enabled() {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	transitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transition", transition),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordStoreError counts one persistent-store failure.
func RecordStoreError(ctx context.Context, op string) {
	if !Enabled() {
		return
	}
	storeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
