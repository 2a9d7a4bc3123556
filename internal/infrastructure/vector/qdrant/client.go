package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
)

// Client talks to Qdrant over its REST API. It serves both the chunk and the
// document collections; collections are created lazily on first write.
type Client struct {
	baseURL    string
	httpClient *http.Client

	ensureMu sync.Mutex
	ensured  map[string]int
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		ensured:    make(map[string]int),
	}
}

func (c *Client) Upsert(ctx context.Context, collection string, points []ports.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	if err := c.ensureCollection(ctx, collection, len(points[0].Vector)); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	body := struct {
		Points []point `json:"points"`
	}{Points: make([]point, 0, len(points))}
	for _, p := range points {
		body.Points = append(body.Points, point{
			ID:      p.ID,
			Vector:  p.Vector,
			Payload: payloadFromMetadata(p.Metadata),
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, collection)
	return c.do(ctx, http.MethodPut, url, body, nil, "upsert")
}

func (c *Client) Query(
	ctx context.Context,
	collection string,
	vector []float32,
	k int,
	filter domain.SearchFilter,
) ([]ports.VectorHit, error) {
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if filter.Category != "" {
		reqBody["filter"] = map[string]any{
			"must": []map[string]any{
				{
					"key": "category",
					"match": map[string]any{
						"value": filter.Category,
					},
				},
			},
		}
	}

	var searchResp struct {
		Result []struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, collection)
	if err := c.do(ctx, http.MethodPost, url, reqBody, &searchResp, "search"); err != nil {
		return nil, err
	}

	out := make([]ports.VectorHit, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, ports.VectorHit{
			ID:       r.ID,
			Score:    r.Score,
			Metadata: metadataFromPayload(r.Payload),
		})
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	reqBody := map[string]any{"points": ids}
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, collection)
	return c.do(ctx, http.MethodPost, url, reqBody, nil, "delete points")
}

func (c *Client) DeleteByDocument(ctx context.Context, collection, documentID string) error {
	reqBody := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key": "document_id",
					"match": map[string]any{
						"value": documentID,
					},
				},
			},
		},
	}
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, collection)
	return c.do(ctx, http.MethodPost, url, reqBody, nil, "delete by document")
}

func (c *Client) do(ctx context.Context, method, url string, reqBody, out any, op string) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s status: %s", op, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
	}
	return nil
}

func (c *Client) ensureCollection(ctx context.Context, collection string, vectorSize int) error {
	c.ensureMu.Lock()
	if size, ok := c.ensured[collection]; ok && size == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ensure collection request: %w", err)
	}
	defer resp.Body.Close()

	// 200/201 for create, 409 if already exists (depends on version/config).
	if resp.StatusCode == http.StatusConflict {
		c.markCollectionEnsured(collection, vectorSize)
		return nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return fmt.Errorf("qdrant ensure collection status: %s: %s", resp.Status, msg)
		}
		return fmt.Errorf("qdrant ensure collection status: %s", resp.Status)
	}
	c.markCollectionEnsured(collection, vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(collection string, vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensured[collection] = vectorSize
}

func payloadFromMetadata(m domain.VectorMetadata) map[string]any {
	payload := map[string]any{
		"document_id":  m.DocumentID,
		"title":        m.Title,
		"category":     m.Category,
		"subcategory":  m.Subcategory,
		"criterion":    m.Criterion,
		"path":         m.Path,
		"start_offset": m.StartOffset,
		"end_offset":   m.EndOffset,
		"text":         m.Text,
		"modified_at":  m.ModifiedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.ChunkID != "" {
		payload["chunk_id"] = m.ChunkID
	}
	return payload
}

func metadataFromPayload(payload map[string]any) domain.VectorMetadata {
	meta := domain.VectorMetadata{
		DocumentID:  getStringPayload(payload, "document_id"),
		ChunkID:     getStringPayload(payload, "chunk_id"),
		Title:       getStringPayload(payload, "title"),
		Category:    getStringPayload(payload, "category"),
		Subcategory: getStringPayload(payload, "subcategory"),
		Criterion:   getStringPayload(payload, "criterion"),
		Path:        getStringPayload(payload, "path"),
		Text:        getStringPayload(payload, "text"),
		StartOffset: getIntPayload(payload, "start_offset"),
		EndOffset:   getIntPayload(payload, "end_offset"),
	}
	if ts, err := time.Parse(time.RFC3339Nano, getStringPayload(payload, "modified_at")); err == nil {
		meta.ModifiedAt = ts
	}
	return meta
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
