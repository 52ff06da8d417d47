package org

import (
	"net"
	"net/http"
	"strings"
)

// Resolver resolves organization identifiers from HTTP requests using either
// headers or subdomains. Every property-management customer runs under its
// own organization; all record stores scope their queries by it.
type Resolver struct {
	HeaderName string
	RootDomain string
	DefaultOrg string
}

// NewResolver returns a resolver configured with the provided header name,
// root domain, and default organization slug. If headerName is empty,
// "X-Org-ID" is used.
func NewResolver(headerName, rootDomain, defaultOrg string) *Resolver {
	if headerName == "" {
		headerName = "X-Org-ID"
	}
	return &Resolver{
		HeaderName: headerName,
		RootDomain: strings.ToLower(strings.TrimSpace(rootDomain)),
		DefaultOrg: strings.TrimSpace(defaultOrg),
	}
}

// Middleware resolves the organization from the request and injects it into
// the context passed downstream.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		orgID := r.Resolve(req)
		if orgID == "" {
			orgID = r.DefaultOrg
		}
		if orgID != "" {
			ctx := WithOrg(req.Context(), orgID)
			req = req.WithContext(ctx)
		}
		next.ServeHTTP(w, req)
	})
}

// Resolve attempts to find the organization identifier from the configured
// header or the request subdomain.
func (r *Resolver) Resolve(req *http.Request) string {
	if r == nil || req == nil {
		return ""
	}
	if orgID := strings.TrimSpace(req.Header.Get(r.HeaderName)); orgID != "" {
		return orgID
	}

	host := hostWithoutPort(req.Host)
	if host == "" {
		return ""
	}
	return strings.TrimSpace(r.subdomainFromHost(host))
}

func (r *Resolver) subdomainFromHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return ""
	}

	if r.RootDomain != "" {
		if host == r.RootDomain {
			return ""
		}
		suffix := "." + r.RootDomain
		if strings.HasSuffix(host, suffix) {
			host = strings.TrimSuffix(host, suffix)
		} else {
			return ""
		}
	}

	parts := strings.Split(host, ".")
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func hostWithoutPort(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if strings.HasPrefix(hostport, "[") {
		if idx := strings.Index(hostport, "]"); idx != -1 {
			host := hostport[1:idx]
			if host != "" {
				return host
			}
		}
	}
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	if idx := strings.Index(hostport, ":"); idx != -1 && strings.Count(hostport, ":") == 1 {
		return hostport[:idx]
	}
	return hostport
}
