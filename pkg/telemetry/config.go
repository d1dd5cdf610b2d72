package telemetry

// Config selects where trace spans for one plugin instance are
// exported to. Exactly one of JaegerURL or OTLP.Host is expected to be
// set; SetupTelemetry prefers OTLP when both are.
type Config struct {
	// JaegerURL is the Jaeger collector endpoint.
	JaegerURL string
	// OTLP configures an OTLP/HTTP exporter instead of Jaeger.
	OTLP OTLP
	// Package names the service in exported spans (the plugin binary).
	Package string
	// ID identifies this particular plugin instance, e.g. a hostname.
	ID string
}

// OTLP configures an OTLP/HTTP trace exporter.
type OTLP struct {
	// Host is the collector's host:port, without scheme or path.
	Host string
	// Secure enables TLS to the collector.
	Secure bool
}
