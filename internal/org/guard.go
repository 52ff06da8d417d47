package org

import "net/http"

// Require ensures an organization identifier exists in request context.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"ORG_REQUIRED","message":"organization is required"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
