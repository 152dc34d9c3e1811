// Package remote содержит общий JSON-клиент для внутренних HTTP-сервисов.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNotFound возвращается на ответ 404.
var ErrNotFound = errors.New("remote resource not found")

// StatusError — неуспешный HTTP-статус ответа.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

const maxErrorBody = 512

// Client выполняет GET-запросы с JSON-ответом. Транспорт инструментирован otelhttp.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Entry
}

// NewClient создаёт клиента для сервиса по baseURL.
// Если httpClient не передан, используется клиент с otelhttp-транспортом.
func NewClient(baseURL, service string, httpClient *http.Client, logger *log.Entry) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		}
	}
	if logger == nil {
		logger = log.WithField("component", service+"-client")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// GetJSON выполняет GET baseURL+path и декодирует тело ответа в out.
// Сегменты пути экранируются вызывающим через PathEscape.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	target := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", target, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("GET %s: %w", target, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: http.MethodGet, URL: target, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response %s: %w", target, err)
	}

	c.logger.WithField("url", target).Debug("remote call succeeded")
	return nil
}

// PathEscape экранирует сегмент пути.
func PathEscape(segment string) string {
	return url.PathEscape(segment)
}
