package labq

import (
	"net/http"

	"go.uber.org/zap"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/viant/labq/service/store"
	"github.com/viant/labq/service/usage"
	"github.com/viant/labq/tracing"
)

// Option customises the engine service.
type Option func(s *Service)

// WithStore sets the atomic store, overriding the one derived from Config.
func WithStore(aStore store.Store) Option {
	return func(s *Service) { s.store = aStore }
}

// WithRecorder sets the usage recorder.
func WithRecorder(recorder usage.Recorder) Option {
	return func(s *Service) { s.recorder = recorder }
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithHTTPClient sets the HTTP client used for remote laboratory calls.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) { s.httpClient = client }
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile
// is empty the stdout exporter is used; otherwise traces are written to the
// supplied file path. The function is safe to call multiple times – the first
// successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom
// SpanExporter. This enables integrations with exporters other than the
// built-in stdout exporter, for example OTLP, Jaeger or Zipkin. The function
// is safe to call multiple times – the first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
