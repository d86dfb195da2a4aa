package observe

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

type Mux struct {
	wrapped Multiplexer
	handler http.Handler
}

func NewMux(wrapped Multiplexer) *Mux {
	return &Mux{
		wrapped: wrapped,
		handler: otelhttp.NewHandler(wrapped, "/"),
	}
}

func (mux *Mux) Handle(pattern string, handler http.Handler) {
	// Configure the "http.route" for the HTTP instrumentation.
	taggedHandler := otelhttp.WithRouteTag(route(pattern), handler)
	mux.wrapped.Handle(pattern, taggedHandler)
}

// route strips the method and host from a ServeMux pattern, leaving the path
// template used as the "http.route" attribute.
func route(pattern string) string {
	if _, path, found := strings.Cut(pattern, " "); found {
		pattern = strings.TrimSpace(path)
	}
	if i := strings.Index(pattern, "/"); i > 0 {
		pattern = pattern[i:]
	}
	return pattern
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.handler.ServeHTTP(w, r)
}
