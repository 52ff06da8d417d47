package queue

import (
	"context"

	"github.com/noah-isme/backend-properti/internal/org"
)

// Topic returns a per-organization queue topic, e.g. "<org>:notification-dispatch".
func Topic(ctx context.Context, kind string) string {
	if id, ok := org.FromContext(ctx); ok {
		return id + ":" + kind
	}
	return kind
}
