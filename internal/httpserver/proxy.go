package httpserver

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/Okazakee/okazakee-ws-sub000/internal/httpmw"
	"github.com/Okazakee/okazakee-ws-sub000/internal/log"
)

// NewUpstreamProxy returns a reverse proxy that forwards to the app
// origin. The edge terminates client connections; the origin sees
// X-Forwarded-For with the resolved client IP.
func NewUpstreamProxy(target *url.URL, l log.Logger) http.Handler {
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			if ip := httpmw.ClientIPFromContext(pr.In.Context()); ip != "" {
				pr.Out.Header.Set("X-Forwarded-For", ip)
			}
			if id := httpmw.RequestIDFromContext(pr.In.Context()); id != "" {
				pr.Out.Header.Set("X-Request-Id", id)
			}
			// preserve the Host the client asked for
			pr.Out.Host = pr.In.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			l.Error(r.Context(), err, "upstream proxy error",
				"url.path", r.URL.Path,
			)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   100,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
		FlushInterval: 100 * time.Millisecond,
	}
	return rp
}
