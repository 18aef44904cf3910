package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/synkahealth/synka-client/internal/errors"
	"github.com/synkahealth/synka-client/internal/models"
)

// DefaultTimeout keeps offline detection fast; a hung request is
// indistinguishable from being offline to the caller.
const DefaultTimeout = 10 * time.Second

// HTTPGateway talks JSON to the server's /patients endpoints.
type HTTPGateway struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPGateway creates a gateway against a base URL like
// "http://localhost:3000/api/v1". The token, if non-empty, is attached
// as a Bearer credential.
func NewHTTPGateway(baseURL, token string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
}

// createRequest is the create wire shape: the client-generated id
// rides along with the fields so the server can adopt it.
type createRequest struct {
	ID string `json:"id,omitempty"`
	*models.PatientPayload
}

// patientResponse is the single-record envelope.
type patientResponse struct {
	Patient *models.Patient `json:"patient"`
}

// listResponse is the paginated list envelope.
type listResponse struct {
	Data []*models.Patient `json:"data"`
}

// errorResponse is the server error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// Create implements PatientGateway.
func (g *HTTPGateway) Create(ctx context.Context, id string, fields *models.PatientPayload) (*models.Patient, error) {
	body := createRequest{ID: id, PatientPayload: fields}
	var resp patientResponse
	if err := g.do(ctx, http.MethodPost, "/patients", body, &resp); err != nil {
		return nil, err
	}
	if resp.Patient == nil {
		return nil, apperrors.New(apperrors.ErrGateway, "create response missing patient")
	}
	return resp.Patient, nil
}

// Update implements PatientGateway.
func (g *HTTPGateway) Update(ctx context.Context, id string, fields *models.PatientPayload) (*models.Patient, error) {
	var resp patientResponse
	if err := g.do(ctx, http.MethodPut, "/patients/"+url.PathEscape(id), fields, &resp); err != nil {
		return nil, err
	}
	if resp.Patient == nil {
		return nil, apperrors.New(apperrors.ErrGateway, "update response missing patient")
	}
	return resp.Patient, nil
}

// Delete implements PatientGateway.
func (g *HTTPGateway) Delete(ctx context.Context, id string) error {
	return g.do(ctx, http.MethodDelete, "/patients/"+url.PathEscape(id), nil, nil)
}

// List implements PatientGateway.
func (g *HTTPGateway) List(ctx context.Context, search string, page, limit int) ([]*models.Patient, error) {
	q := url.Values{}
	if search != "" {
		q.Set("search", search)
	}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/patients"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp listResponse
	if err := g.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// HealthURL returns the endpoint the connectivity monitor probes.
func (g *HTTPGateway) HealthURL() string {
	return g.baseURL + "/health"
}

// do runs one JSON request/response cycle and maps HTTP status codes
// onto the error taxonomy.
func (g *HTTPGateway) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrGateway, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrap(apperrors.ErrGateway, "decode response", err)
		}
		return nil
	}

	var errResp errorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(data, &errResp)
	message := errResp.Error
	if message == "" {
		message = strings.TrimSpace(string(data))
	}
	if message == "" {
		message = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.New(apperrors.ErrNotFound, message)
	case resp.StatusCode == http.StatusConflict:
		return apperrors.New(apperrors.ErrConflict, message)
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(message), "phone number"):
		// The server reports duplicate phone numbers as a 400 with a
		// "phone number already exists" message.
		return apperrors.New(apperrors.ErrConflict, message)
	default:
		return apperrors.New(apperrors.ErrGateway, fmt.Sprintf("%s %s: %d %s", method, path, resp.StatusCode, message))
	}
}
