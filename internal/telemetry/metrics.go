package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/gannetcloud/tenantd"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Isolation metrics
	IsolationViolationsTotal metric.Int64Counter

	// Webhook metrics
	WebhookReceivedTotal     metric.Int64Counter
	WebhookDiscardedTotal    metric.Int64Counter
	WebhookDeadLetteredTotal metric.Int64Counter
	WebhookDuplicateTotal    metric.Int64Counter

	// Provisioning metrics
	ProvisionedTotal       metric.Int64Counter
	ProvisionFailuresTotal metric.Int64Counter
	DeprovisionedTotal     metric.Int64Counter
	ProvisionDuration      metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.IsolationViolationsTotal, _ = meter.Int64Counter(
		"tenantd.isolation.violations.total",
		metric.WithDescription("Total number of rejected cross-tenant operations"),
		metric.WithUnit("{violation}"),
	)

	m.WebhookReceivedTotal, _ = meter.Int64Counter(
		"tenantd.webhooks.received.total",
		metric.WithDescription("Total number of webhook events received"),
		metric.WithUnit("{event}"),
	)

	m.WebhookDiscardedTotal, _ = meter.Int64Counter(
		"tenantd.webhooks.discarded.total",
		metric.WithDescription("Total number of webhook events discarded"),
		metric.WithUnit("{event}"),
	)

	m.WebhookDeadLetteredTotal, _ = meter.Int64Counter(
		"tenantd.webhooks.dead_lettered.total",
		metric.WithDescription("Total number of webhook events dead-lettered"),
		metric.WithUnit("{event}"),
	)

	m.WebhookDuplicateTotal, _ = meter.Int64Counter(
		"tenantd.webhooks.duplicate.total",
		metric.WithDescription("Total number of duplicate webhook deliveries"),
		metric.WithUnit("{event}"),
	)

	m.ProvisionedTotal, _ = meter.Int64Counter(
		"tenantd.provisioning.completed.total",
		metric.WithDescription("Total number of organizations provisioned"),
		metric.WithUnit("{organization}"),
	)

	m.ProvisionFailuresTotal, _ = meter.Int64Counter(
		"tenantd.provisioning.failures.total",
		metric.WithDescription("Total number of failed provisioning runs"),
		metric.WithUnit("{failure}"),
	)

	m.DeprovisionedTotal, _ = meter.Int64Counter(
		"tenantd.provisioning.deprovisioned.total",
		metric.WithDescription("Total number of organizations deprovisioned"),
		metric.WithUnit("{organization}"),
	)

	m.ProvisionDuration, _ = meter.Float64Histogram(
		"tenantd.provisioning.duration",
		metric.WithDescription("Duration of provisioning runs"),
		metric.WithUnit("ms"),
	)

	return m
}
