// Package web is the synchronous HTTP boundary used for auxiliary network
// calls. Callers hand over a value-typed request and get a fully-read
// response back; connection management stays inside the loader.
package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Request is a value-typed HTTP request.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is a fully-read HTTP response.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// DefaultTimeout bounds one request/response exchange.
const DefaultTimeout = 30 * time.Second

// Loader performs synchronous HTTP exchanges.
type Loader struct {
	client *http.Client
	logger *logrus.Logger
}

// NewLoader creates a loader. Zero timeout takes DefaultTimeout; nil logger
// gets a default logrus logger.
func NewLoader(timeout time.Duration, logger *logrus.Logger) *Loader {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Loader{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Load performs the exchange and reads the whole response body.
func (l *Loader) Load(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, req.URL, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	l.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    req.URL,
	}).Debug("Issuing web request")

	httpResp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body from %s: %w", req.URL, err)
	}

	headers := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		headers[k] = httpResp.Header.Get(k)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}
