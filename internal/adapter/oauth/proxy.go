// Package oauth forwards the OAuth2 endpoints to the external provider.
package oauth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"account-service/pkg/logger"
)

// Proxy reverse-proxies /o/* requests to the provider, path unchanged.
type Proxy struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
	log    *zap.Logger
}

// NewProxy creates a proxy for the provider at providerURL.
func NewProxy(providerURL string, log *zap.Logger) (*Proxy, error) {
	target, err := url.Parse(providerURL)
	if err != nil {
		return nil, fmt.Errorf("parse provider url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("provider url %q must be absolute", providerURL)
	}

	p := &Proxy{target: target, log: log}
	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
			if id := logger.GetRequestID(r.In.Context()); id != "" {
				r.Out.Header.Set(logger.RequestIDHeader, id)
			}
		},
		ErrorHandler: p.handleError,
	}
	return p, nil
}

// Handler returns the Gin handler for the /o/*path route.
func (p *Proxy) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p.proxy.ServeHTTP(c.Writer, c.Request)
	}
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	logger.WithContext(r.Context(), p.log).Error("oauth provider unreachable",
		zap.String("target", p.target.Host),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "bad_gateway",
		"message": "authorization server unavailable",
	})
}
