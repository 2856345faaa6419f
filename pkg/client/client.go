// Package client provides the Go SDK for the StayKeeper custody service:
// evidence registration, sealing, bundling, attachment, and derived-artifact
// assembly over its REST API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Evidence mirrors the service's evidence object representation.
type Evidence struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	SourceType    string     `json:"source_type"`
	Title         string     `json:"title"`
	ContentSHA256 string     `json:"content_sha256"`
	ChainStatus   string     `json:"chain_status"`
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SealedAt      *time.Time `json:"sealed_at,omitempty"`
}

// Event mirrors one entry of an evidence object's hash chain.
type Event struct {
	ID         string          `json:"id"`
	EvidenceID string          `json:"evidence_id"`
	Seq        int64           `json:"seq"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	Hash       string          `json:"hash"`
	PrevHash   *string         `json:"prev_hash"`
	CreatedAt  time.Time       `json:"created_at"`
}

// VerifyReport is the result of a chain verification.
type VerifyReport struct {
	Valid             bool     `json:"valid"`
	EventChain        []*Event `json:"event_chain"`
	FirstFailureIndex *int     `json:"first_failure_index"`
}

// Bundle mirrors the service's bundle representation.
type Bundle struct {
	ID             string          `json:"id"`
	BundleType     string          `json:"bundle_type"`
	Title          string          `json:"title"`
	Status         string          `json:"status"`
	ManifestJSON   json.RawMessage `json:"manifest_json,omitempty"`
	ManifestSHA256 *string         `json:"manifest_sha256,omitempty"`
	SealedAt       *time.Time      `json:"sealed_at,omitempty"`
}

// Attachment mirrors one parent input record.
type Attachment struct {
	ID                   string    `json:"id"`
	ParentID             string    `json:"parent_id"`
	EvidenceObjectID     *string   `json:"evidence_object_id,omitempty"`
	BundleID             *string   `json:"bundle_id,omitempty"`
	CopiedSHA256         *string   `json:"copied_sha256,omitempty"`
	BundleManifestSHA256 *string   `json:"bundle_manifest_sha256,omitempty"`
	Label                string    `json:"label,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// Artifact mirrors a derived artifact.
type Artifact struct {
	ID         string          `json:"id"`
	ParentID   string          `json:"parent_id"`
	Kind       string          `json:"kind"`
	Version    int             `json:"version"`
	Status     string          `json:"status"`
	Document   json.RawMessage `json:"document"`
	BodySHA256 string          `json:"body_sha256"`
	CreatedAt  time.Time       `json:"created_at"`
	ExportedAt *time.Time      `json:"exported_at,omitempty"`
}

// CreateEvidenceRequest is the payload for CreateEvidence.
type CreateEvidenceRequest struct {
	SourceType string          `json:"source_type"`
	Title      string          `json:"title"`
	Content    string          `json:"content,omitempty"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
	ObjectKey  string          `json:"object_key,omitempty"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
}

// AttachRequest is the payload for Attach.
type AttachRequest struct {
	EvidenceObjectID *string `json:"evidence_object_id,omitempty"`
	BundleID         *string `json:"bundle_id,omitempty"`
	Label            string  `json:"label,omitempty"`
}

// Client is the custody SDK entry point.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a service token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a Client connected to baseURL.
//
//	c, err := client.New("https://custody.staykeeper.io",
//	    client.WithBearerToken(token),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// CreateEvidence registers a new evidence object.
func (c *Client) CreateEvidence(ctx context.Context, req CreateEvidenceRequest) (*Evidence, error) {
	var out Evidence
	if err := c.call(ctx, http.MethodPost, "/api/v1/evidence", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEvidence fetches an evidence object by id.
func (c *Client) GetEvidence(ctx context.Context, id string) (*Evidence, error) {
	var out Evidence
	if err := c.call(ctx, http.MethodGet, "/api/v1/evidence/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AppendEvent appends a chain event. clientRequestID may be empty; when set,
// retries with the same id return the original event.
func (c *Client) AppendEvent(ctx context.Context, evidenceID, eventType string, payload json.RawMessage, clientRequestID string) (*Event, error) {
	req := map[string]any{"event_type": eventType}
	if len(payload) > 0 {
		req["payload"] = payload
	}
	if clientRequestID != "" {
		req["client_request_id"] = clientRequestID
	}
	var out Event
	if err := c.call(ctx, http.MethodPost, "/api/v1/evidence/"+evidenceID+"/events", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListEvents returns an object's event chain in append order.
func (c *Client) ListEvents(ctx context.Context, evidenceID string) ([]*Event, error) {
	var out struct {
		Events []*Event `json:"events"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/evidence/"+evidenceID+"/events", nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// VerifyChain walks an object's event chain and reports integrity.
func (c *Client) VerifyChain(ctx context.Context, evidenceID string) (*VerifyReport, error) {
	var out VerifyReport
	if err := c.call(ctx, http.MethodGet, "/api/v1/evidence/"+evidenceID+"/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SealEvidence seals an evidence object. Sealing an already sealed object
// succeeds without effect.
func (c *Client) SealEvidence(ctx context.Context, evidenceID string) (*Evidence, error) {
	var out Evidence
	if err := c.call(ctx, http.MethodPost, "/api/v1/evidence/"+evidenceID+"/seal", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBundle creates an open bundle.
func (c *Client) CreateBundle(ctx context.Context, bundleType, title string) (*Bundle, error) {
	req := map[string]string{"bundle_type": bundleType, "title": title}
	var out Bundle
	if err := c.call(ctx, http.MethodPost, "/api/v1/bundles", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddBundleItem adds an evidence object to an open bundle.
func (c *Client) AddBundleItem(ctx context.Context, bundleID, evidenceID string, sortOrder int, label string) error {
	req := map[string]any{
		"evidence_object_id": evidenceID,
		"sort_order":         sortOrder,
	}
	if label != "" {
		req["label"] = label
	}
	return c.call(ctx, http.MethodPost, "/api/v1/bundles/"+bundleID+"/items", req, nil)
}

// SealBundle compiles the manifest and seals the bundle.
func (c *Client) SealBundle(ctx context.Context, bundleID string) (*Bundle, error) {
	var out Bundle
	if err := c.call(ctx, http.MethodPost, "/api/v1/bundles/"+bundleID+"/seal", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Attach links a sealed evidence object or bundle to a parent.
func (c *Client) Attach(ctx context.Context, parentID string, req AttachRequest) (*Attachment, error) {
	var out Attachment
	if err := c.call(ctx, http.MethodPost, "/api/v1/parents/"+parentID+"/inputs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListInputs returns a parent's attachments.
func (c *Client) ListInputs(ctx context.Context, parentID string) ([]*Attachment, error) {
	var out struct {
		Inputs []*Attachment `json:"inputs"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/parents/"+parentID+"/inputs", nil, &out); err != nil {
		return nil, err
	}
	return out.Inputs, nil
}

// Assemble builds the next artifact version for a parent.
func (c *Client) Assemble(ctx context.Context, parentID, kind, clientRequestID string) (*Artifact, error) {
	req := map[string]string{"kind": kind}
	if clientRequestID != "" {
		req["client_request_id"] = clientRequestID
	}
	var out Artifact
	if err := c.call(ctx, http.MethodPost, "/api/v1/parents/"+parentID+"/artifacts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListArtifacts returns all artifact versions for a parent, newest first.
func (c *Client) ListArtifacts(ctx context.Context, parentID string) ([]*Artifact, error) {
	var out struct {
		Artifacts []*Artifact `json:"artifacts"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/parents/"+parentID+"/artifacts", nil, &out); err != nil {
		return nil, err
	}
	return out.Artifacts, nil
}

// GetArtifact fetches an artifact by id.
func (c *Client) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	var out Artifact
	if err := c.call(ctx, http.MethodGet, "/api/v1/artifacts/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportArtifact marks an assembled artifact exported.
func (c *Client) ExportArtifact(ctx context.Context, id string) (*Artifact, error) {
	var out Artifact
	if err := c.call(ctx, http.MethodPost, "/api/v1/artifacts/"+id+"/export", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// call performs one JSON request/response round trip.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBytes, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("custody API %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("custody API %d: %s", resp.StatusCode, string(respBytes))
	}

	if respBody != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
