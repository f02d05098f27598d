package engine

import (
	"crypto/tls"
	"net"
	"net/http"

	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/types"
)

// NewClient builds an http.Client tuned for concurrent range requests.
// HTTP/2 is disabled so each worker gets its own TCP connection instead
// of multiplexed streams competing for one socket.
func NewClient(maxConns int) *http.Client {
	if maxConns < 1 {
		maxConns = 1
	}

	transport := &http.Transport{
		MaxIdleConns:        types.DefaultMaxIdleConns,
		MaxIdleConnsPerHost: maxConns + 2,
		MaxConnsPerHost:     maxConns,

		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: types.DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: types.DefaultExpectContinueTimeout,

		DisableCompression: true, // payloads are usually compressed already
		ForceAttemptHTTP2:  false,
		TLSNextProto:       make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),

		DialContext: (&net.Dialer{
			Timeout:   types.DialTimeout,
			KeepAlive: types.KeepAliveDuration,
		}).DialContext,
	}

	return &http.Client{Transport: transport}
}
