package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/opsfocus/internal/dashboardapi"
)

const (
	healthyPath = "/-/healthy"
	readyPath   = "/-/ready"

	// request bodies are tiny JSON objects
	maxBodyBytes = 16 * 1024
)

// newRouter builds the chi router for the main listener: health endpoints
// plus the dashboard API.
func newRouter(api *dashboardapi.API, healthy, ready http.HandlerFunc) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Compress(5, "application/json"))
	// names log lines and spans after the chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	// 413 past the limit
	r.Use(httpmw.MaxBody(maxBodyBytes))

	r.Get(healthyPath, healthy)
	r.Get(readyPath, ready)

	api.RegisterRoutes(r)
	return r
}

// wrapHandler applies the outer middleware. Wrappers are listed inside out:
// the last one applied sees the raw request first.
func wrapHandler(h http.Handler, L log.Logger, instrument func(http.Handler) http.Handler, trustedHops int) http.Handler {
	// innermost, so request logs carry trace ids and the route
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != healthyPath && r.URL.Path != readyPath
		}),
		// renamed to the route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	h = instrument(h)

	// resolved client ip is visible to everything below
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{TrustedHops: trustedHops})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)

	// outermost so every response carries them, 500s included
	return httpmw.SecurityHeaders(h)
}
