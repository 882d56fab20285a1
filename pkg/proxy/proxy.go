package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ngoyal88/reqlog/pkg/middleware"
)

// Gateway forwards every request to one upstream application, so the request
// logger can sit in front of services it cannot be compiled into.
type Gateway struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
}

func New(targetURL string) (*Gateway, error) {
	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", targetURL)
	}

	p := httputil.NewSingleHostReverseProxy(parsedURL)

	director := p.Director
	p.Director = func(req *http.Request) {
		director(req)
		req.Header.Set("X-Reqlog", "True")
	}

	// Upstream failures are transport errors of the logged request.
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warnf("[proxy] upstream error: %v", err)
		middleware.RecordError(r.Context(), err)
		http.Error(w, "upstream error", http.StatusBadGateway)
	}

	return &Gateway{
		target: parsedURL,
		proxy:  p,
	}, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	g.proxy.ServeHTTP(w, r)
	upstreamLatency.Observe(time.Since(start).Seconds())
}

func (g *Gateway) Target() string {
	return g.target.String()
}
