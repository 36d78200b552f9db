package api

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsMaxAge       = "3600"
)

// CORSMiddleware allows cross-origin access from allowOrigin, a comma
// separated list or "*". OPTIONS requests are answered with 204 before
// routing.
func CORSMiddleware(allowOrigin string) func(http.Handler) http.Handler {
	allowed := parseOrigins(allowOrigin)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions

			if value, ok := allowed.match(origin, preflight); ok {
				w.Header().Set("Access-Control-Allow-Origin", value)
				if value != "*" {
					w.Header().Add("Vary", "Origin")
				}
			}
			if !preflight {
				next.ServeHTTP(w, r)
				return
			}

			headers := r.Header.Get("Access-Control-Request-Headers")
			if headers == "" {
				headers = "*"
			}
			w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			w.Header().Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

type originList struct {
	any     bool
	origins map[string]struct{}
}

func parseOrigins(raw string) originList {
	list := originList{origins: make(map[string]struct{})}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
		case "*":
			list.any = true
		default:
			list.origins[part] = struct{}{}
		}
	}
	if len(list.origins) == 0 {
		list.any = true
	}
	return list
}

// match returns the Access-Control-Allow-Origin value for origin. With a
// wildcard configuration preflights echo the caller's origin.
func (l originList) match(origin string, preflight bool) (string, bool) {
	if l.any {
		if preflight && origin != "" {
			return origin, true
		}
		return "*", true
	}
	if _, ok := l.origins[origin]; ok {
		return origin, true
	}
	return "", false
}
