package org

import (
	"context"
	"strings"
)

type contextKey string

const orgContextKey contextKey = "org.id"

// WithOrg stores the organization identifier inside the context.
func WithOrg(ctx context.Context, orgID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, orgContextKey, orgID)
}

// FromContext extracts the organization identifier from the context if available.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	orgID, ok := ctx.Value(orgContextKey).(string)
	if !ok {
		return "", false
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return "", false
	}
	return orgID, true
}

// ID returns the organization identifier or an empty string when absent.
func ID(ctx context.Context) string {
	orgID, _ := FromContext(ctx)
	return orgID
}

// PrefixKey creates a namespaced cache/queue key per organization slug or id.
func PrefixKey(orgSlugOrID, key string) string {
	if orgSlugOrID == "" {
		return key
	}
	return orgSlugOrID + ":" + key
}
