// Package client talks to remote laboratory servers. Two wire protocol
// variants exist: labdiscoverylib and the legacy weblablib. Which one a
// resource speaks is decided once when the resource is loaded; both are
// interchangeable behind the Client interface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/viant/labq/internal/clock"
	"github.com/viant/labq/model"
)

// Client drives one remote laboratory session.
type Client interface {
	// Start creates a session for the reservation and returns the session
	// URL and the external session identifier.
	Start(ctx context.Context, request *model.ReservationRequest) (url string, sessionID string, err error)

	// ShouldFinish polls the session; it returns the seconds left until the
	// next poll, or a negative value when the session is already over.
	ShouldFinish(ctx context.Context, sessionID string) (float64, error)

	// Dispose tears the session down; it returns a positive retry delay in
	// seconds while the remote side still needs time, and zero or negative
	// once fully torn down.
	Dispose(ctx context.Context, sessionID string) (float64, error)
}

// DefaultTimeout bounds every remote laboratory round-trip.
const DefaultTimeout = 30 * time.Second

// New returns the protocol client matching the resource's API variant.
func New(resource *model.Resource, httpClient *http.Client) (Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	base := base{
		resource:   resource,
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(resource.URL, "/"),
	}
	switch resource.API {
	case model.APIVariantLabDiscovery, "":
		base.prefix = "/ldl"
		return &labDiscoveryClient{base: base}, nil
	case model.APIVariantWebLab:
		base.prefix = "/weblab"
		return &webLabClient{base: base}, nil
	}
	return nil, fmt.Errorf("resource %v has unsupported api variant %q", resource.Identifier, resource.API)
}

type base struct {
	resource   *model.Resource
	httpClient *http.Client
	baseURL    string
	prefix     string
}

func (b *base) url(path string) string {
	return b.baseURL + b.prefix + path
}

// do performs one authenticated round-trip and decodes the JSON response.
func (b *base) do(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request to %v: %w", url, err)
		}
		reader = bytes.NewReader(data)
	}
	request, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request to %v: %w", url, err)
	}
	request.SetBasicAuth(b.resource.Login, b.resource.Password)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := b.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("request to %v failed: %w", url, err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("request to %v failed with status %v", url, response.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %v: %w", url, err)
	}
	return nil
}

type startResponse struct {
	URL       string          `json:"url"`
	SessionID string          `json:"session_id"`
	Error     json.RawMessage `json:"error"`
	Success   *bool           `json:"success"`
}

type sessionResponse struct {
	ShouldFinish float64 `json:"should_finish"`
}

// start posts the session-creation request shared by both variants.
func (b *base) start(ctx context.Context, request *model.ReservationRequest) (string, string, error) {
	now := clock.Now().UTC()
	locale := request.Locale
	if locale == "" {
		locale = "en"
	}
	body := map[string]interface{}{
		"client_initial_data": map[string]interface{}{},
		"server_initial_data": map[string]interface{}{
			"request.locale":                             locale,
			"request.username.unique":                    request.UniqueUsername(),
			"request.full_name":                          request.UserFullName,
			"request.experiment_id.experiment_name":      request.Laboratory,
			"request.experiment_id.category_name":        "",
			"reservation_id":                             request.Identifier,
			"priority.queue.slot.length":                 request.MaxTime,
			"priority.queue.slot.start":                  now.Format(time.RFC3339),
			"priority.queue.slot.start.timestamp":        now.Unix(),
			"priority.queue.slot.start.timezone":         "UTC",
		},
		"back": request.BackURL,
	}
	response := &startResponse{}
	if err := b.do(ctx, http.MethodPost, b.url("/sessions/"), body, response); err != nil {
		return "", "", err
	}
	if failed(response) {
		return "", "", fmt.Errorf("remote laboratory rejected reservation %v: %v",
			request.Identifier, string(response.Error))
	}
	sessionID := response.SessionID
	if sessionID == "" {
		sessionID = response.URL
	}
	return response.URL, sessionID, nil
}

// failed interprets the loosely-typed error/success fields the remote
// implementations return.
func failed(response *startResponse) bool {
	if response.Success != nil && !*response.Success {
		return true
	}
	errField := strings.TrimSpace(string(response.Error))
	return errField != "" && errField != "null" && errField != "false" && errField != `""`
}

func (b *base) shouldFinish(ctx context.Context, sessionID string) (float64, error) {
	response := &sessionResponse{}
	if err := b.do(ctx, http.MethodGet, b.url("/sessions/"+sessionID+"/status"), nil, response); err != nil {
		return 0, err
	}
	return response.ShouldFinish, nil
}
