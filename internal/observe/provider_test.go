package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

func TestInitProvider_ExportsToRegistry(t *testing.T) {
	prevMP := otel.GetMeterProvider()
	prevTP := otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(prevMP)
		otel.SetTracerProvider(prevTP)
	})

	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{Registerer: reg})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordPipeFailure(context.Background(), "write")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "capa_remux_pipe_failures") {
			found = true
		}
	}
	if !found {
		t.Error("pipe failure counter not exported to the registry")
	}
}

func TestInitProvider_ReportsServiceResource(t *testing.T) {
	prevMP := otel.GetMeterProvider()
	prevTP := otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(prevMP)
		otel.SetTracerProvider(prevTP)
	})

	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "1.2.3",
		Registerer:     reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordSamples(context.Background(), "audio", 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	labels := map[string]string{}
	for _, f := range families {
		if f.GetName() != "target_info" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
		}
	}
	if labels["service_name"] != "capa" {
		t.Errorf("service_name = %q, want %q", labels["service_name"], "capa")
	}
	if labels["service_version"] != "1.2.3" {
		t.Errorf("service_version = %q, want %q", labels["service_version"], "1.2.3")
	}
}
