package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPCollector triggers a scraper service over HTTP and decodes the counts
// from its response. Network-level failures and non-2xx responses are
// reported separately so the log can tell "crashed" from "reported failure".
type HTTPCollector struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPCollector(endpoint string, client *http.Client) *HTTPCollector {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCollector{Endpoint: endpoint, Client: client}
}

type httpSummaryResponse struct {
	Success *bool   `json:"success"`
	Error   string  `json:"error"`
	Data    Summary `json:"data"`
	Summary
}

func (hc *HTTPCollector) Collect(ctx context.Context) (Summary, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, hc.Endpoint, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("failed building collector request: %w", err)
	}

	response, err := hc.Client.Do(request)
	if err != nil {
		return Summary{}, fmt.Errorf("collector request failed: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return Summary{}, fmt.Errorf("failed reading collector response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return Summary{}, fmt.Errorf("collector reported failure: status %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}

	decoded := httpSummaryResponse{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Summary{}, nil
	}
	if decoded.Success != nil && !*decoded.Success {
		return Summary{}, fmt.Errorf("collector reported failure: %s", decoded.Error)
	}

	// Counts may come wrapped in a data envelope or at the top level.
	summary := decoded.Data
	if summary.New == nil && summary.Updated == nil && summary.Total == nil {
		summary = decoded.Summary
	}
	return summary, nil
}
