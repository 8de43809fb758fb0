// Package tracing constructs the opentracing.Tracer shared by the node
// agent's session operations (spec 4.G: "per-operation spans") and
// wires it to a Jaeger agent over UDP. Grounded on the teacher's own
// JaegerAddr option and tracing.Init call (local_daemon/scheduler.go,
// gateway/cmd/main.go) at the jaeger-client-go library's standard
// const-sample-all, UDP-reporter construction.
package tracing

import (
	"time"

	"github.com/opentracing/opentracing-go"
	jaeger "github.com/uber/jaeger-client-go"
)

// Init builds and registers a Jaeger tracer reporting to agentAddr
// (host:port of the Jaeger agent's UDP compact-thrift endpoint). The
// tracer's closer is discarded, so no closer is returned and the caller
// cannot flush buffered spans on shutdown.
func Init(serviceName, agentAddr string) (opentracing.Tracer, error) {
	transport, err := jaeger.NewUDPTransport(agentAddr, 0)
	if err != nil {
		return nil, err
	}

	reporter := jaeger.NewRemoteReporter(transport,
		jaeger.ReporterOptions.BufferFlushInterval(time.Second))

	sampler := jaeger.NewConstSampler(true)

	tracer, _ := jaeger.NewTracer(serviceName, sampler, reporter)
	opentracing.SetGlobalTracer(tracer)
	return tracer, nil
}
