// Package upstream provides the internal HTTP client wrapper the
// Fulfillment Engine uses to call the Code-Assist endpoint. It always sets
// Content-Length explicitly when a body is present, since chunked transfer
// causes the upstream OAuth endpoints to hang, and sends the headers its
// caller supplies verbatim (the engine passes config.UpstreamHeaders).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// Response is the result of a unary Do call.
type Response struct {
	StatusCode int
	Header     http.Header
	body       []byte
}

// Text returns the response body as a string.
func (r *Response) Text() string { return string(r.body) }

// JSON unmarshals the response body into dest.
func (r *Response) JSON(dest interface{}) error { return json.Unmarshal(r.body, dest) }

// StreamResponse is the result of a streaming Do call: headers are
// available immediately but the body must be read incrementally.
type StreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Client wraps two *http.Client instances, one tuned for unary calls and one
// for streaming calls, around the explicit Content-Length requirement.
type Client struct {
	unary     *http.Client
	streaming *http.Client
}

// New builds a Client whose unary calls are bounded by unaryTimeout.
// streamingTimeout is not applied by the Client: streaming calls are
// bounded only by the ctx passed to Stream.
func New(unaryTimeout, streamingTimeout time.Duration) *Client {
	return &Client{
		unary:     &http.Client{Timeout: unaryTimeout},
		streaming: &http.Client{Timeout: 0}, // bounded instead via context, see Stream
	}
}

// Do issues a unary request, buffering the full body, setting
// Content-Length explicitly rather than allowing chunked transfer.
func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	req, err := newRequest(ctx, method, url, headers, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.unary.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, body: data}, nil
}

// Stream issues a request whose body is consumed incrementally by the
// caller (SSE). The caller is responsible for closing StreamResponse.Body.
// The read loop is bounded by ctx (the engine applies
// config.StreamingTimeout there), not by http.Client.Timeout, since the
// latter would also cap the duration of a legitimately long-lived SSE
// connection.
func (c *Client) Stream(ctx context.Context, method, url string, headers map[string]string, body []byte) (*StreamResponse, error) {
	req, err := newRequest(ctx, method, url, headers, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.streaming.Do(req)
	if err != nil {
		return nil, err
	}
	return &StreamResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

func newRequest(ctx context.Context, method, url string, headers map[string]string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.ContentLength = int64(len(body))
	}
	return req, nil
}
