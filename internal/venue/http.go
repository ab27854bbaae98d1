package venue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// restClient is the shared HTTP plumbing for the venue adapters. Each
// adapter owns one instance configured with its venue's base URL.
type restClient struct {
	baseURL    string
	httpClient *http.Client
}

func newRESTClient(baseURL string) *restClient {
	return &restClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// do performs an HTTP request against the venue and returns the response
// body. Non-2xx responses are returned as errors carrying a bounded excerpt
// of the body.
func (c *restClient) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("venue: create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("venue: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("venue: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := data
		if len(excerpt) > 512 {
			excerpt = excerpt[:512]
		}
		return nil, fmt.Errorf("venue: %s %s: status %d: %s", method, path, resp.StatusCode, string(excerpt))
	}

	return data, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
