package proxy

import (
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
)

// Proxy forwards admitted requests to the protected upstream API. The
// admission layer in front of it is the interesting part; this stays a
// thin single-host reverse proxy.
type Proxy struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
}

func New(targetURL string) (*Proxy, error) {
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}

	return &Proxy{
		target: target,
		proxy:  httputil.NewSingleHostReverseProxy(target),
	}, nil
}

// Handle forwards the request, preserving the original host and client
// address in forwarding headers.
func (p *Proxy) Handle(c *gin.Context) {
	req := c.Request

	req.Header.Set("X-Forwarded-Host", req.Host)
	if clientIP := c.ClientIP(); clientIP != "" && req.Header.Get("X-Forwarded-For") == "" {
		req.Header.Set("X-Forwarded-For", clientIP)
	}

	req.URL.Scheme = p.target.Scheme
	req.URL.Host = p.target.Host
	req.Host = p.target.Host

	p.proxy.ServeHTTP(c.Writer, req)
}

// Target returns the upstream URL, for status output.
func (p *Proxy) Target() string {
	return p.target.String()
}
