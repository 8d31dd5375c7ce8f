package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "consilium"

// StartConsultSpan starts a span for one interactive consultation.
func StartConsultSpan(ctx context.Context, conversationID, mode string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "consult",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("consult.mode", mode),
		),
	)
}

// StartMissionSpan starts a span for an autonomous mission launch.
func StartMissionSpan(ctx context.Context, missionID, profile string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "mission",
		trace.WithAttributes(
			attribute.String("mission.id", missionID),
			attribute.String("mission.profile", profile),
		),
	)
}
