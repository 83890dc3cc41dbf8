package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/jobs"
)

const (
	namespace   = "open_image_gateway"
	serviceName = "open-image-gateway"
)

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promExporter   *prometheus.Exporter
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequestCounter *promreg.CounterVec
	httpRequestLatency *promreg.HistogramVec
	jobsSubmitted      *promreg.CounterVec
	jobsFinished       *promreg.CounterVec
	jobDuration        *promreg.HistogramVec
	jobPollAttempts    *promreg.HistogramVec
	imagesGenerated    *promreg.CounterVec
	capabilityFetches  *promreg.CounterVec
	mirrorResults      *promreg.CounterVec
}

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		endpoint, opts := otlpEndpoint(cfg.OTLPEndpoint)
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		client := otlptracegrpc.NewClient(opts...)
		exporter, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		registry := promreg.NewRegistry()
		if err := provider.setupMetrics(registry, res); err != nil {
			return nil, err
		}
	}

	return provider, nil
}

func (p *Provider) setupMetrics(registry *promreg.Registry, res *resource.Resource) error {
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return err
	}
	mp := metric.NewMeterProvider(
		metric.WithReader(promExporter),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	p.meterProvider = mp
	p.promExporter = promExporter
	p.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)

	latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}
	jobBuckets := []float64{1, 2, 5, 10, 20, 30, 60, 90, 120}

	p.httpRequestCounter = promreg.NewCounterVec(promreg.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"method", "route", "status"})
	p.httpRequestLatency = promreg.NewHistogramVec(promreg.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   latencyBuckets,
	}, []string{"method", "route", "status"})
	p.jobsSubmitted = promreg.NewCounterVec(promreg.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_submitted_total",
		Help:      "Generation jobs accepted by the backend queue.",
	}, []string{"model"})
	p.jobsFinished = promreg.NewCounterVec(promreg.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "Generation jobs by terminal state.",
	}, []string{"model", "state"})
	p.jobDuration = promreg.NewHistogramVec(promreg.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Wall time from submission to terminal state.",
		Buckets:   jobBuckets,
	}, []string{"model", "state"})
	p.jobPollAttempts = promreg.NewHistogramVec(promreg.HistogramOpts{
		Namespace: namespace,
		Name:      "job_poll_attempts",
		Help:      "Status checks issued per job.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 45},
	}, []string{"model"})
	p.imagesGenerated = promreg.NewCounterVec(promreg.CounterOpts{
		Namespace: namespace,
		Name:      "images_generated_total",
		Help:      "Images returned to callers.",
	}, []string{"model"})
	p.capabilityFetches = promreg.NewCounterVec(promreg.CounterOpts{
		Namespace: namespace,
		Name:      "capability_fetches_total",
		Help:      "Capability schema fetch outcomes.",
	}, []string{"model", "result"})
	p.mirrorResults = promreg.NewCounterVec(promreg.CounterOpts{
		Namespace: namespace,
		Name:      "result_mirror_total",
		Help:      "Result image mirroring outcomes.",
	}, []string{"result"})

	for _, c := range []promreg.Collector{
		p.httpRequestCounter, p.httpRequestLatency,
		p.jobsSubmitted, p.jobsFinished, p.jobDuration, p.jobPollAttempts,
		p.imagesGenerated, p.capabilityFetches, p.mirrorResults,
	} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func otlpEndpoint(raw string) (string, []otlptracegrpc.Option) {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	var opts []otlptracegrpc.Option
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
		opts = append(opts, otlptracegrpc.WithInsecure())
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
	default:
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return endpoint, opts
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

// Tracer returns the gateway tracer, or nil when tracing is off.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracerProvider == nil {
		return nil
	}
	return p.tracerProvider.Tracer(serviceName)
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}
	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}

// ObserveJobSubmitted implements jobs.Observer.
func (p *Provider) ObserveJobSubmitted(model string) {
	if p == nil || p.jobsSubmitted == nil {
		return
	}
	p.jobsSubmitted.WithLabelValues(model).Inc()
}

// ObserveJobFinished implements jobs.Observer.
func (p *Provider) ObserveJobFinished(model string, state jobs.State, attempts int, elapsed time.Duration) {
	if p == nil || p.jobsFinished == nil {
		return
	}
	p.jobsFinished.WithLabelValues(model, state.String()).Inc()
	p.jobDuration.WithLabelValues(model, state.String()).Observe(elapsed.Seconds())
	if attempts > 0 {
		p.jobPollAttempts.WithLabelValues(model).Observe(float64(attempts))
	}
}

// ObserveCapabilityFetch implements capability.Observer.
func (p *Provider) ObserveCapabilityFetch(model, result string) {
	if p == nil || p.capabilityFetches == nil {
		return
	}
	p.capabilityFetches.WithLabelValues(model, result).Inc()
}

func (p *Provider) RecordImages(model string, count int) {
	if p == nil || p.imagesGenerated == nil || count <= 0 {
		return
	}
	p.imagesGenerated.WithLabelValues(model).Add(float64(count))
}

// ObserveMirror implements mirror.Observer.
func (p *Provider) ObserveMirror(result string) {
	if p == nil || p.mirrorResults == nil {
		return
	}
	p.mirrorResults.WithLabelValues(result).Inc()
}
