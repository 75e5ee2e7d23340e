package ingest

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/trunkwatch/trunkwatch/internal/telemetry"
)

type ingestMetrics struct {
	environment string
	imports     metric.Int64Counter
}

func newIngestMetrics() *ingestMetrics {
	meter := otel.Meter("ingest")
	im := &ingestMetrics{environment: telemetry.Environment()}
	im.imports, _ = meter.Int64Counter("trunkwatch_ingest_imports",
		metric.WithDescription("Recorder uploads processed, labeled by outcome"),
		metric.WithUnit("{upload}"))
	return im
}

func (im *ingestMetrics) record(system, result string) {
	if im == nil || im.imports == nil {
		return
	}
	im.imports.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.IngestAttributes(im.environment, system, result)...))
}

func (im *ingestMetrics) accepted(system string)  { im.record(system, "accepted") }
func (im *ingestMetrics) rejected(system string)  { im.record(system, "rejected") }
func (im *ingestMetrics) duplicate(system string) { im.record(system, "duplicate") }
func (im *ingestMetrics) failed(system string)    { im.record(system, "failed") }
