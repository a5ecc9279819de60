// Package jsonapi implements the remote collaborator over a JSON:API style
// HTTP endpoint: document reads per resource collection and an atomic
// operations endpoint for batched commits.
package jsonapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"resourcecache/pkg/domain"
)

var _ domain.RemoteClient = (*Client)(nil)

const defaultTimeout = 30 * time.Second

// Client talks to the remote resource API.
type Client struct {
	baseURL string
	http    *http.Client
	headers map[string]string
}

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithHeader adds a header to every request, e.g. authorization.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// NewClient constructs a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL required")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resourceDocument is the wire form of one resource.
type resourceDocument struct {
	Type          string                          `json:"type"`
	ID            string                          `json:"id"`
	Attributes    map[string]any                  `json:"attributes,omitempty"`
	Relationships map[string]relationshipDocument `json:"relationships,omitempty"`
}

type relationshipDocument struct {
	Data json.RawMessage `json:"data"`
}

type linkage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func encodeResource(res domain.Resource) resourceDocument {
	doc := resourceDocument{
		Type:       res.Identifier.Type,
		ID:         res.Identifier.ID,
		Attributes: res.Attributes,
	}
	if len(res.Relationships) > 0 {
		doc.Relationships = make(map[string]relationshipDocument, len(res.Relationships))
		for name, rel := range res.Relationships {
			doc.Relationships[name] = encodeRelationship(rel)
		}
	}
	return doc
}

func encodeRelationship(rel domain.Relationship) relationshipDocument {
	if rel.Many != nil {
		refs := make([]linkage, len(rel.Many))
		for i, id := range rel.Many {
			refs[i] = linkage{Type: id.Type, ID: id.ID}
		}
		data, _ := json.Marshal(refs)
		return relationshipDocument{Data: data}
	}
	if rel.One == nil {
		return relationshipDocument{Data: json.RawMessage("null")}
	}
	data, _ := json.Marshal(linkage{Type: rel.One.Type, ID: rel.One.ID})
	return relationshipDocument{Data: data}
}

func decodeResource(doc resourceDocument) (domain.Resource, error) {
	if doc.Type == "" || doc.ID == "" {
		return domain.Resource{}, fmt.Errorf("resource document missing type or id")
	}
	res := domain.NewResource(doc.Type, doc.ID)
	res.Attributes = doc.Attributes
	if res.Attributes == nil {
		res.Attributes = make(map[string]any)
	}
	for name, rd := range doc.Relationships {
		rel, err := decodeRelationship(rd)
		if err != nil {
			return domain.Resource{}, fmt.Errorf("relationship %s of %s/%s: %w", name, doc.Type, doc.ID, err)
		}
		res.Relationships[name] = rel
	}
	return res, nil
}

func decodeRelationship(rd relationshipDocument) (domain.Relationship, error) {
	trimmed := bytes.TrimSpace(rd.Data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		// Cleared to-one reference.
		return domain.Relationship{}, nil
	}
	if trimmed[0] == '[' {
		var refs []linkage
		if err := json.Unmarshal(trimmed, &refs); err != nil {
			return domain.Relationship{}, err
		}
		ids := make([]domain.ResourceIdentifier, len(refs))
		for i, ref := range refs {
			ids[i] = domain.ResourceIdentifier{Type: ref.Type, ID: ref.ID}
		}
		return domain.ToMany(ids...), nil
	}
	var ref linkage
	if err := json.Unmarshal(trimmed, &ref); err != nil {
		return domain.Relationship{}, err
	}
	return domain.ToOne(domain.ResourceIdentifier{Type: ref.Type, ID: ref.ID}), nil
}

type fetchResponse struct {
	Data     json.RawMessage    `json:"data"`
	Included []resourceDocument `json:"included,omitempty"`
}

// Fetch answers a read request. Collection reads hit GET /{type}; identified
// reads hit GET /{type}/{id}. Filter, sort, and include travel as query
// parameters. Included resources are appended after the primary data so the
// caller can land everything in one batch.
func (c *Client) Fetch(ctx context.Context, query domain.Query) ([]domain.Resource, error) {
	if query.ResourceType == "" {
		return nil, fmt.Errorf("fetch requires a resource type")
	}
	endpoint := c.baseURL + "/" + url.PathEscape(query.ResourceType)
	if query.ID != "" {
		endpoint += "/" + url.PathEscape(query.ID)
	}
	params := url.Values{}
	if query.Filter != "" {
		params.Set("filter", query.Filter)
	}
	if len(query.Sort) > 0 {
		fields := make([]string, len(query.Sort))
		for i, f := range query.Sort {
			if f.Descending {
				fields[i] = "-" + f.Field
			} else {
				fields[i] = f.Field
			}
		}
		params.Set("sort", strings.Join(fields, ","))
	}
	if len(query.Include) > 0 {
		params.Set("include", strings.Join(query.Include, ","))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.api+json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound && query.ID != "" {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d: %s", endpoint, resp.StatusCode, readErrorBody(resp.Body))
	}

	var body fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode fetch response: %w", err)
	}
	docs, err := primaryData(body.Data)
	if err != nil {
		return nil, err
	}
	docs = append(docs, body.Included...)
	resources := make([]domain.Resource, 0, len(docs))
	for _, doc := range docs {
		res, err := decodeResource(doc)
		if err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}
	return resources, nil
}

func primaryData(data json.RawMessage) ([]resourceDocument, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var docs []resourceDocument
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, fmt.Errorf("decode primary data: %w", err)
		}
		return docs, nil
	}
	var doc resourceDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode primary data: %w", err)
	}
	return []resourceDocument{doc}, nil
}

type operationRequest struct {
	Op   string            `json:"op"`
	Ref  *linkage          `json:"ref,omitempty"`
	Data *resourceDocument `json:"data,omitempty"`
}

type operationsRequest struct {
	Operations []operationRequest `json:"operations"`
}

type operationResult struct {
	Data   *resourceDocument `json:"data,omitempty"`
	Errors []apiError        `json:"errors,omitempty"`
}

type apiError struct {
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

type operationsResponse struct {
	Results []operationResult `json:"results"`
}

// CommitBatch posts the staged changes to POST /operations as one atomic
// operations document and maps each result back to its staged change by
// position. A missing or malformed response fails the whole batch so nothing
// is promoted on a protocol error.
func (c *Client) CommitBatch(ctx context.Context, changes []domain.PendingChange) (domain.BatchResult, error) {
	if len(changes) == 0 {
		return domain.BatchResult{}, nil
	}
	reqBody := operationsRequest{Operations: make([]operationRequest, len(changes))}
	for i, ch := range changes {
		op, err := encodeOperation(ch)
		if err != nil {
			return domain.BatchResult{}, err
		}
		reqBody.Operations[i] = op
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("encode operations: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/operations", bytes.NewReader(payload))
	if err != nil {
		return domain.BatchResult{}, err
	}
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("Accept", "application/vnd.api+json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.BatchResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return domain.BatchResult{}, fmt.Errorf("operations endpoint: unexpected status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var body operationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.BatchResult{}, fmt.Errorf("decode operations response: %w", err)
	}
	if len(body.Results) != len(changes) {
		return domain.BatchResult{}, fmt.Errorf("operations response has %d results for %d operations", len(body.Results), len(changes))
	}

	result := domain.BatchResult{Outcomes: make([]domain.OperationOutcome, len(changes))}
	for i, opResult := range body.Results {
		outcome := domain.OperationOutcome{
			Identifier: changes[i].Identifier,
			Action:     changes[i].Action,
		}
		if len(opResult.Errors) > 0 {
			first := opResult.Errors[0]
			outcome.Err = &domain.RemoteOperationError{
				Identifier: changes[i].Identifier,
				Action:     changes[i].Action,
				Status:     first.Status,
				Detail:     first.Detail,
			}
		} else if opResult.Data != nil {
			res, err := decodeResource(*opResult.Data)
			if err != nil {
				return domain.BatchResult{}, err
			}
			outcome.Resource = &res
		}
		result.Outcomes[i] = outcome
	}
	return result, nil
}

func encodeOperation(ch domain.PendingChange) (operationRequest, error) {
	ref := linkage{Type: ch.Identifier.Type, ID: ch.Identifier.ID}
	switch ch.Action {
	case domain.ActionCreate:
		if ch.Resource == nil {
			return operationRequest{}, fmt.Errorf("create of %s has no resource body", ch.Identifier)
		}
		doc := encodeResource(*ch.Resource)
		return operationRequest{Op: "add", Data: &doc}, nil
	case domain.ActionPatch:
		doc := resourceDocument{
			Type:       ch.Identifier.Type,
			ID:         ch.Identifier.ID,
			Attributes: ch.Attributes,
		}
		if len(ch.Relationships) > 0 {
			doc.Relationships = make(map[string]relationshipDocument, len(ch.Relationships))
			for name, rel := range ch.Relationships {
				doc.Relationships[name] = encodeRelationship(rel)
			}
		}
		return operationRequest{Op: "update", Ref: &ref, Data: &doc}, nil
	case domain.ActionDelete:
		return operationRequest{Op: "remove", Ref: &ref}, nil
	default:
		return operationRequest{}, fmt.Errorf("unknown change action %q", ch.Action)
	}
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(bytes.TrimSpace(b)) == 0 {
		return "<no body>"
	}
	return string(bytes.TrimSpace(b))
}
