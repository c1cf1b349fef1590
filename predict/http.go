package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEngine speaks the Engine contract against a host-run model service
// over JSON: POST /init to load the model, POST /predict for batches.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEngine creates an engine client for the service at baseURL. A nil
// httpClient gets a default with a 30s timeout.
func NewHTTPEngine(baseURL string, httpClient *http.Client) *HTTPEngine {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPEngine{baseURL: baseURL, client: httpClient}
}

// Init asks the service to load the model.
func (e *HTTPEngine) Init(ctx context.Context) error {
	return e.post(ctx, "/init", nil, nil)
}

// PredictBatch submits one batch and decodes the ordered results.
func (e *HTTPEngine) PredictBatch(ctx context.Context, inputs []Input) ([]Result, error) {
	reqBody := struct {
		Inputs []Input `json:"inputs"`
	}{Inputs: inputs}

	var respBody struct {
		Results []Result `json:"results"`
	}
	if err := e.post(ctx, "/predict", reqBody, &respBody); err != nil {
		return nil, err
	}
	if len(respBody.Results) != len(inputs) {
		return nil, fmt.Errorf("engine returned %d results for %d inputs",
			len(respBody.Results), len(inputs))
	}
	return respBody.Results, nil
}

// Close is a no-op; the service's lifecycle belongs to the host.
func (e *HTTPEngine) Close() error {
	return nil
}

func (e *HTTPEngine) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: engine status %d", ErrEngineUnavailable, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode engine response: %w", err)
		}
	}
	return nil
}
