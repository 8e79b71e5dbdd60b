package provider

import (
	"net"
	"net/http"
	"time"
)

const defaultHeaderTimeout = 120 * time.Second

// StreamingHTTPClient returns a pooled client for long-lived streamed
// responses. There is no overall client timeout because it would cut a
// healthy stream; headerTimeout bounds the wait for the first byte and the
// request context bounds the rest.
func StreamingHTTPClient(headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = defaultHeaderTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}
