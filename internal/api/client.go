package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go-dataverse-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrInvalidURL       = errors.New("dataset URL is not valid")
	ErrUnexpectedStatus = errors.New("API request failed with unexpected status")
	ErrMissingKey       = errors.New("expected key missing from API response")
)

// MetadataEndpointPath is the canonical dataset-metadata endpoint. The
// persistent identifier travels via the query string preserved from the
// input URL, not by re-adding a parameter.
const MetadataEndpointPath = "/api/datasets/:persistentId/"

// NormalizeDatasetURL splits a dataset URL into the server root and the
// canonical metadata endpoint URL. The input URL's query string is kept on
// the endpoint URL as-is.
func NormalizeDatasetURL(raw string) (serverURL, metadataURL string, err error) {
	parsed, parseErr := url.Parse(raw)
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}

	server := url.URL{Scheme: parsed.Scheme, Host: parsed.Host}

	endpoint := *parsed
	endpoint.Path = MetadataEndpointPath
	endpoint.RawPath = ""
	endpoint.Fragment = ""

	return server.String(), endpoint.String(), nil
}

// Client struct for talking to a Dataverse server.
type Client struct {
	Token      string
	HttpClient *http.Client // Use a shared client
}

// NewClient creates a new API client.
func NewClient(token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		Token:      token,
		HttpClient: httpClient,
	}
}

// GetDatasetVersion fetches and decodes the latest dataset version from
// the metadata endpoint. The X-Dataverse-key header is attached when the
// client carries a token.
func (c *Client) GetDatasetVersion(ctx context.Context, metadataURL string) (*models.DatasetVersion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		log.WithError(err).Errorf("Error creating request for %s", metadataURL)
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("X-Dataverse-key", c.Token)
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		log.WithError(err).Errorf("Error performing metadata request for %s", metadataURL)
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, metadataURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).Error("Error reading metadata response body")
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	var response models.DatasetResponse
	if err := json.Unmarshal(body, &response); err != nil {
		log.WithError(err).Error("Error unmarshalling metadata response JSON")
		log.Debugf("Response body causing unmarshal error: %s", string(body))
		return nil, fmt.Errorf("error unmarshalling response JSON: %w", err)
	}

	if response.Data == nil {
		return nil, fmt.Errorf("%w: data", ErrMissingKey)
	}
	if response.Data.LatestVersion == nil {
		return nil, fmt.Errorf("%w: data.latestVersion", ErrMissingKey)
	}

	return response.Data.LatestVersion, nil
}
