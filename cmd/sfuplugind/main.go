// Command sfuplugind is a development harness for the routing core: it
// wires up the same Plugin a cgo shim would drive from the gateway's C
// ABI, but drives it from this process's own lifecycle instead of an
// embedding host. It exists so the plugin can be profiled, traced, and
// exercised (e.g. from integration tests that talk to it over some
// side channel) without building the real gateway.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/meshboard/sfu-plugin/pkg/gateway"
	"github.com/meshboard/sfu-plugin/pkg/profiling"
	"github.com/meshboard/sfu-plugin/pkg/telemetry"
)

func main() {
	var (
		configDir  = flag.String("config", ".", "directory containing janus.plugin.sfu.cfg")
		cpuProfile = flag.String("cpuProfile", "", "write CPU profile to `file`")
		memProfile = flag.String("memProfile", "", "write memory profile to `file`")
		jaegerURL  = flag.String("jaeger", "", "Jaeger collector endpoint for trace export")
		otlpHost   = flag.String("otlpHost", "", "OTLP/HTTP collector host:port for trace export")
		otlpSecure = flag.Bool("otlpSecure", false, "use TLS when talking to the OTLP collector")
	)

	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})

	var teardown []func()

	if *cpuProfile != "" {
		teardown = append(teardown, profiling.InitCPUProfiling(cpuProfile))
	}

	if *memProfile != "" {
		teardown = append(teardown, profiling.InitMemoryProfiling(memProfile))
	}

	if *jaegerURL != "" || *otlpHost != "" {
		tp, err := telemetry.SetupTelemetry(telemetry.Config{
			JaegerURL: *jaegerURL,
			OTLP:      telemetry.OTLP{Host: *otlpHost, Secure: *otlpSecure},
			Package:   telemetry.PACKAGE,
			ID:        hostnameOrFallback(),
		})
		if err != nil {
			logrus.WithError(err).Fatal("could not set up telemetry")
		}

		teardown = append(teardown, func() { _ = tp.Shutdown(context.Background()) }) //nolint:errcheck
	} else {
		logrus.Info("no trace exporter configured, running without tracing")
	}

	plugin := gateway.NewPlugin(gatewayCallbacks{})

	if err := plugin.Init(*configDir); err != nil {
		logrus.WithError(err).Fatal("could not initialize plugin")
	}

	teardown = append(teardown, plugin.Destroy)

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	for _, fn := range teardown {
		fn()
	}
}

func hostnameOrFallback() string {
	h, err := os.Hostname()
	if err != nil {
		return "sfuplugind"
	}

	return h
}
