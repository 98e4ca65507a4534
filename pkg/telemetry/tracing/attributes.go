package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on Sextant spans.
const (
	AttrMode         = attribute.Key("sextant.mode")
	AttrRunID        = attribute.Key("sextant.run_id")
	AttrCached       = attribute.Key("sextant.cached")
	AttrStep         = attribute.Key("sextant.step")
	AttrStepBudget   = attribute.Key("sextant.step.budget")
	AttrStepTokens   = attribute.Key("sextant.step.tokens")
	AttrStepStatus   = attribute.Key("sextant.step.status")
	AttrQueryCount   = attribute.Key("sextant.retrieval.queries")
	AttrTopK         = attribute.Key("sextant.retrieval.top_k")
	AttrUnresolved   = attribute.Key("sextant.retrieval.unresolved")
	AttrDenyResource = attribute.Key("sextant.limits.resource")
)

// SetRouteAttributes annotates a router.route span.
func SetRouteAttributes(span trace.Span, mode, runID string, cached bool) {
	span.SetAttributes(
		AttrMode.String(mode),
		AttrRunID.String(runID),
		AttrCached.Bool(cached),
	)
}

// SetStepAttributes annotates a workflow.step span.
func SetStepAttributes(span trace.Span, step string, budget, tokens int, status string) {
	span.SetAttributes(
		AttrStep.String(step),
		AttrStepBudget.Int(budget),
		AttrStepTokens.Int(tokens),
		AttrStepStatus.String(status),
	)
}

// SetRetrievalAttributes annotates a retrieval.retrieve span.
func SetRetrievalAttributes(span trace.Span, queries, topK, unresolved int) {
	span.SetAttributes(
		AttrQueryCount.Int(queries),
		AttrTopK.Int(topK),
		AttrUnresolved.Int(unresolved),
	)
}
