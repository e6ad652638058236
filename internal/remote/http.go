package remote

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

	"github.com/okutins/plansync/internal/models"
)

// TokenProvider supplies the bearer token for outbound requests. Session
// management lives outside the sync engine; the adapter only attaches
// whatever the provider hands back. A nil provider sends no token.
type TokenProvider func(ctx context.Context) (string, error)

// HTTPClient implements Client against the JSON REST gateway.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	token   TokenProvider
}

// DefaultCallTimeout bounds every gateway call so a dead network path
// degrades into a transient failure instead of a hung drain.
const DefaultCallTimeout = 15 * time.Second

// NewHTTPClient returns a gateway client for the given base URL
// (e.g. "https://api.example.com"). token may be nil.
func NewHTTPClient(baseURL string, timeout time.Duration, token TokenProvider) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		token:   token,
	}
}

// wireEntity is the gateway's record shape: the snapshot body plus the
// server-assigned id.
type wireEntity struct {
	ID string `json:"id,omitempty"`
	models.Snapshot
}

type wireList struct {
	Items  []wireEntity `json:"items"`
	Cursor string       `json:"cursor,omitempty"`
}

func collectionPath(typ models.EntityType) (string, error) {
	switch typ {
	case models.EntityTypeTask:
		return "tasks", nil
	case models.EntityTypeEvent:
		return "events", nil
	default:
		return "", fmt.Errorf("%w: %q", models.ErrUnknownEntityType, typ)
	}
}

func (c *HTTPClient) CreateEntity(ctx context.Context, s models.Snapshot) (CanonicalEntity, error) {
	coll, err := collectionPath(s.Type)
	if err != nil {
		return CanonicalEntity{}, err
	}

	var out wireEntity
	if err := c.doJSON(ctx, http.MethodPost, "/v1/"+coll, wireEntity{Snapshot: s}, &out); err != nil {
		return CanonicalEntity{}, fmt.Errorf("create %s: %w", s.Type, err)
	}
	return out.canonical(), nil
}

func (c *HTTPClient) UpdateEntity(ctx context.Context, remoteID string, s models.Snapshot) (CanonicalEntity, error) {
	coll, err := collectionPath(s.Type)
	if err != nil {
		return CanonicalEntity{}, err
	}

	var out wireEntity
	path := "/v1/" + coll + "/" + url.PathEscape(remoteID)
	if err := c.doJSON(ctx, http.MethodPut, path, wireEntity{ID: remoteID, Snapshot: s}, &out); err != nil {
		return CanonicalEntity{}, fmt.Errorf("update %s %s: %w", s.Type, remoteID, err)
	}
	return out.canonical(), nil
}

func (c *HTTPClient) DeleteEntity(ctx context.Context, typ models.EntityType, remoteID string) error {
	coll, err := collectionPath(typ)
	if err != nil {
		return err
	}

	path := "/v1/" + coll + "/" + url.PathEscape(remoteID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete %s %s: %w", typ, remoteID, err)
	}
	return nil
}

func (c *HTTPClient) ListEntities(ctx context.Context, typ models.EntityType, cursor string) (ListResult, error) {
	coll, err := collectionPath(typ)
	if err != nil {
		return ListResult{}, err
	}

	path := "/v1/" + coll
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}

	var out wireList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return ListResult{}, fmt.Errorf("list %s: %w", typ, err)
	}

	result := ListResult{Cursor: out.Cursor}
	for _, item := range out.Items {
		result.Entities = append(result.Entities, item.canonical())
	}
	return result, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/v1/ping", nil, nil)
}

func (w wireEntity) canonical() CanonicalEntity {
	return CanonicalEntity{
		RemoteID: w.ID,
		Snapshot: w.Snapshot.WithRemoteID(w.ID),
	}
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("resolve token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failures (refused, reset, timed out) are transient
		// by definition; the drain loop owns the retry budget.
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return statusToError(resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
