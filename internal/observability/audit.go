package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit emits a security-relevant event. These records are written
// independently of whatever response goes back to the caller; repeated
// bad MFA codes, OAuth state mismatches and identity-link conflicts all
// land here with principal id and source address. When a span is
// recording, the event is attached to it as well.
func Audit(ctx context.Context, event string, attrs ...any) {
	base := []any{"event", event}
	base = append(base, attrs...)
	slog.InfoContext(ctx, "audit", base...)

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	spanAttrs := make([]attribute.KeyValue, 0, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		spanAttrs = append(spanAttrs, attribute.String("audit."+key, fmt.Sprint(attrs[i+1])))
	}
	span.AddEvent("audit."+event, trace.WithAttributes(spanAttrs...))
}
