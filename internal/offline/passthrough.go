package offline

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

// NewPassthrough forwards requests to scope untouched, streaming both bodies.
// Absolute-form request URLs are accepted only when they point at the scope's
// origin; anything else is answered with 400 so the gateway never acts as an
// open proxy.
func NewPassthrough(scope *url.URL, transport http.RoundTripper) http.Handler {
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if pr.In.URL.IsAbs() {
				pr.Out.URL = pr.In.URL
				pr.Out.Host = pr.In.URL.Host
			} else {
				pr.SetURL(scope)
			}
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, _ error) {
			offlineResponse(r.URL.String()).write(w)
		},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.IsAbs() && !sameOrigin(scope, r.URL) {
			outOfScope(w)
			return
		}
		proxy.ServeHTTP(w, r)
	})
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

func outOfScope(w http.ResponseWriter) {
	http.Error(w, "request outside the gateway origin", http.StatusBadRequest)
}
