package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for trunkwatch telemetry.

const (
	// AttrEnvironment specifies the deployment environment (dev/staging/prod).
	AttrEnvironment = attribute.Key("environment")
	// AttrSystem identifies the radio system a transmission came from.
	AttrSystem = attribute.Key("system")
	// AttrScopeKind labels stream metrics with the topic scope kind.
	AttrScopeKind = attribute.Key("scope.kind")
	// AttrReason provides additional context for errors and rejections.
	AttrReason = attribute.Key("reason")
	// AttrResult records the outcome of an operation.
	AttrResult = attribute.Key("result")
)

// SystemAttributes labels a metric with the environment and radio system.
func SystemAttributes(environment, system string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrSystem.String(system),
	}
}

// IngestAttributes labels ingest metrics with the environment, system, and
// outcome.
func IngestAttributes(environment, system, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrSystem.String(system),
		AttrResult.String(result),
	}
}

// ScopeAttributes labels subscription metrics with the topic scope kind.
func ScopeAttributes(environment, scopeKind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrScopeKind.String(scopeKind),
	}
}
