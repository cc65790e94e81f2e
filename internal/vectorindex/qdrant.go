package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// payloadEntryID keeps the caller's entry id; Qdrant point ids must be
// unsigned integers or UUIDs.
const payloadEntryID = "entryId"

var pointNamespace = uuid.MustParse("6f1c2d3e-8a4b-5c6d-9e0f-112233445566")

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// QdrantIndex talks to Qdrant over its REST API.
type QdrantIndex struct {
	cfg    QdrantConfig
	client *http.Client

	mu    sync.Mutex
	ready bool
}

func NewQdrantIndex(cfg QdrantConfig) *QdrantIndex {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.Collection == "" {
		cfg.Collection = "financial-documents"
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &QdrantIndex{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (q *QdrantIndex) Name() string { return "qdrant" }

// PointID maps an entry id to its stable Qdrant point id.
func PointID(entryID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(entryID)).String()
}

// EnsureReady creates the collection when absent. A failed attempt is
// retried on the next call.
func (q *QdrantIndex) EnsureReady(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return nil
	}

	status, err := q.do(ctx, http.MethodGet, q.collectionURL(""), nil, nil)
	switch {
	case err == nil:
	case status == http.StatusNotFound:
		body := map[string]any{
			"vectors": map[string]any{
				"size":     q.cfg.Dimension,
				"distance": "Cosine",
			},
		}
		if _, err := q.do(ctx, http.MethodPut, q.collectionURL(""), body, nil); err != nil {
			return fmt.Errorf("create qdrant collection failed: %w", err)
		}
		index := map[string]any{"field_name": KeyDocumentID, "field_schema": "keyword"}
		if _, err := q.do(ctx, http.MethodPut, q.collectionURL("/index?wait=true"), index, nil); err != nil {
			return fmt.Errorf("create qdrant payload index failed: %w", err)
		}
	default:
		return fmt.Errorf("check qdrant collection failed: %w", err)
	}

	q.ready = true
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, entries []Entry) error {
	if err := validateEntries(entries, q.cfg.Dimension); err != nil {
		return err
	}
	if err := q.EnsureReady(ctx); err != nil {
		return err
	}
	return UpsertBatched(ctx, entries, DefaultBatchSize, func(ctx context.Context, batch []Entry) error {
		points := make([]map[string]any, len(batch))
		for i, e := range batch {
			payload := make(map[string]any, len(e.Metadata)+1)
			for k, v := range e.Metadata {
				payload[k] = v
			}
			payload[payloadEntryID] = e.ID
			points[i] = map[string]any{
				"id":      PointID(e.ID),
				"vector":  e.Vector,
				"payload": payload,
			}
		}
		_, err := q.do(ctx, http.MethodPut, q.collectionURL("/points?wait=true"), map[string]any{"points": points}, nil)
		return err
	})
}

func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topN int, filter Metadata) ([]Match, error) {
	if err := validateQuery(vector, q.cfg.Dimension); err != nil {
		return nil, err
	}
	if topN <= 0 {
		return nil, nil
	}
	if err := q.EnsureReady(ctx); err != nil {
		return nil, err
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        topN,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	matches := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		md := make(Metadata, len(r.Payload))
		for k, v := range r.Payload {
			if s, ok := v.(string); ok {
				md[k] = s
			} else {
				md[k] = fmt.Sprint(v)
			}
		}
		id := md[payloadEntryID]
		delete(md, payloadEntryID)
		if id == "" {
			id = fmt.Sprint(r.ID)
		}
		matches = append(matches, Match{ID: id, Score: r.Score, Metadata: md})
	}
	return topK(matches, topN), nil
}

func (q *QdrantIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := q.EnsureReady(ctx); err != nil {
		return err
	}
	body := map[string]any{"filter": buildFilter(Metadata{KeyDocumentID: documentID})}
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL("/points/delete?wait=true"), body, nil); err != nil {
		return fmt.Errorf("qdrant delete failed: %w", err)
	}
	return nil
}

func buildFilter(filter Metadata) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(filter))
	for k, v := range filter {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": v},
		})
	}
	return map[string]any{"must": must}
}

func (q *QdrantIndex) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", q.cfg.URL, q.cfg.Collection, suffix)
}

var errQdrantStatus = errors.New("qdrant request failed")

// do sends a JSON request and decodes the response into out when non-nil. The
// returned status is set whenever a response was received.
func (q *QdrantIndex) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal qdrant request failed: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("build qdrant request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.cfg.APIKey != "" {
		req.Header.Set("api-key", q.cfg.APIKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("%w: %s %s: %s: %s", errQdrantStatus, method, url, resp.Status, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode qdrant response failed: %w", err)
		}
	}
	return resp.StatusCode, nil
}
