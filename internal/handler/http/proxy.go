package http

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Proxy forwards a request verbatim to the node owning a room and relays
// the response unchanged, status code included. One synchronous hop, no
// retries, no circuit breaking.
type Proxy struct {
	client *http.Client
}

// NewProxy creates a Proxy with the given upstream timeout.
func NewProxy(timeout time.Duration) *Proxy {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Proxy{client: &http.Client{Timeout: timeout}}
}

// Forward replays c's request against target and writes the remote
// response into c. It returns the remote status code, or an error when the
// owner is unreachable (the caller maps that to 502 upstream_unavailable).
func (p *Proxy) Forward(c *gin.Context, target string) (int, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return 0, err
	}

	url := target + c.Request.URL.RequestURI()
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header = c.Request.Header.Clone()

	resp, err := p.client.Do(req)
	if err != nil {
		logrus.WithError(err).WithField("target", target).Warn("Proxy to owning node failed")
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	for key, values := range resp.Header {
		if key == "Content-Type" || key == "Content-Length" {
			continue // c.Data sets these from the relayed body
		}
		for _, value := range values {
			c.Writer.Header().Add(key, value)
		}
	}
	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), respBody)
	return resp.StatusCode, nil
}
