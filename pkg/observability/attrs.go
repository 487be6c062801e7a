// Semantic convention attributes for fabric operations.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Tenant attributes
	AttrTenantID = attribute.Key("fabric.tenant.id")

	// Receipt attributes
	AttrReceiptID    = attribute.Key("fabric.receipt.id")
	AttrReceiptPhase = attribute.Key("fabric.receipt.phase")
	AttrRecipientAI  = attribute.Key("fabric.receipt.recipient_ai")

	// Task attributes
	AttrTaskID     = attribute.Key("fabric.task.id")
	AttrTaskType   = attribute.Key("fabric.task.type")
	AttrTaskStatus = attribute.Key("fabric.task.status")
	AttrAttempt    = attribute.Key("fabric.task.attempt")

	// Lease attributes
	AttrLeaseID  = attribute.Key("fabric.lease.id")
	AttrWorkerID = attribute.Key("fabric.worker.id")

	// Plan attributes
	AttrPlanID         = attribute.Key("fabric.plan.id")
	AttrPlanIntent     = attribute.Key("fabric.plan.intent_type")
	AttrPlanComplexity = attribute.Key("fabric.plan.complexity")
)

// ReceiptOperation creates attributes for ledger operations.
func ReceiptOperation(tenantID, receiptID, phase string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrReceiptID.String(receiptID),
		AttrReceiptPhase.String(phase),
	}
}

// TaskOperation creates attributes for task lifecycle operations.
func TaskOperation(tenantID, taskID, taskType, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrTaskID.String(taskID),
		AttrTaskType.String(taskType),
		AttrTaskStatus.String(status),
	}
}

// LeaseOperation creates attributes for lease grant and expiry operations.
func LeaseOperation(tenantID, leaseID, workerID string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrLeaseID.String(leaseID),
		AttrWorkerID.String(workerID),
		AttrAttempt.Int(attempt),
	}
}

// PlanOperation creates attributes for planner operations.
func PlanOperation(tenantID, planID, intentType, complexity string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrPlanID.String(planID),
		AttrPlanIntent.String(intentType),
		AttrPlanComplexity.String(complexity),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
