package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/poiesic/bizkb/ai"
	"github.com/poiesic/bizkb/storage"
	"golang.org/x/time/rate"
)

// Default request rate limits.
const (
	DefaultRPS   = 20
	DefaultBurst = 5
)

const (
	defaultTimeout   = 15 * time.Second
	defaultBatchSize = 64
)

// Store is a minimal REST client to Qdrant.
// It assumes cosine distance and creates collections on first upsert.
type Store struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	limiter   *rate.Limiter
	embedder  ai.Embedder
	logger    *slog.Logger
	batchSize int
	closed    atomic.Bool
}

var _ storage.IndexStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithAPIKey sets the api-key header sent with every request.
func WithAPIKey(key string) Option {
	return func(s *Store) error {
		s.apiKey = key
		return nil
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) error {
		if c == nil {
			return errors.New("http client cannot be nil")
		}
		s.client = c
		return nil
	}
}

// WithRateLimit sets the sustained requests per second and burst size.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Store) error {
		if rps <= 0 || burst <= 0 {
			return errors.New("rate limit must be positive")
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithLogger sets the logger. A nil logger uses slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// New creates a Qdrant-backed index store.
func New(baseURL string, embedder ai.Embedder, opts ...Option) (*Store, error) {
	if baseURL == "" {
		return nil, errors.New("qdrant url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid qdrant url: %w", err)
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	s := &Store{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: defaultTimeout},
		limiter:   rate.NewLimiter(rate.Limit(DefaultRPS), DefaultBurst),
		embedder:  embedder,
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "qdrant-index")
	return s, nil
}

// apiError is returned for non-2xx responses.
type apiError struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *apiError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("qdrant %s %s failed: %d %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("qdrant %s %s failed: %d", e.Method, e.Path, e.Status)
}

func isNotFound(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

type collectionInfo struct {
	Result struct {
		PointsCount *int64 `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

func (s *Store) do(ctx context.Context, method, path string, body any, out any) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var status struct {
			Status struct {
				Error string `json:"error"`
			} `json:"status"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(data, &status)
		return &apiError{Method: method, Path: path, Status: resp.StatusCode, Detail: status.Status.Error}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
	}
	return nil
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

func (s *Store) info(ctx context.Context, name string) (*collectionInfo, error) {
	var info collectionInfo
	if err := s.do(ctx, http.MethodGet, collectionPath(name), nil, &info); err != nil {
		if isNotFound(err) {
			return nil, storage.ErrCollectionNotFound
		}
		return nil, err
	}
	return &info, nil
}

// CollectionExists reports whether the collection is known to the server.
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, err := s.info(ctx, name)
	if errors.Is(err, storage.ErrCollectionNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Stats returns the exact point count and vector size of a collection.
func (s *Store) Stats(ctx context.Context, name string) (storage.CollectionStats, error) {
	var stats storage.CollectionStats
	info, err := s.info(ctx, name)
	if err != nil {
		return stats, err
	}
	stats.Dimension = info.Result.Config.Params.Vectors.Size

	var count struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	err = s.do(ctx, http.MethodPost, collectionPath(name)+"/points/count", map[string]any{"exact": true}, &count)
	if err != nil {
		return stats, err
	}
	stats.RowCount = count.Result.Count
	return stats, nil
}

// CreateAndUpsert embeds rows and writes them as points keyed by PK.
func (s *Store) CreateAndUpsert(ctx context.Context, name string, rows []storage.Row) error {
	if len(rows) == 0 {
		return nil
	}
	for start := 0; start < len(rows); start += s.batchSize {
		end := min(start+s.batchSize, len(rows))
		batch := rows[start:end]

		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = r.Text
		}
		vectors, err := s.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed rows: %w", err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embed rows: got %d vectors for %d texts", len(vectors), len(batch))
		}

		if start == 0 {
			if err := s.ensureCollection(ctx, name, len(vectors[0])); err != nil {
				return err
			}
		}

		points := make([]map[string]any, len(batch))
		for i, r := range batch {
			points[i] = map[string]any{
				"id":     r.PK,
				"vector": vectors[i],
				"payload": map[string]any{
					"pk_id":  r.PK,
					"text":   r.Text,
					"doc_id": r.DocID,
				},
			}
		}
		err = s.do(ctx, http.MethodPut, collectionPath(name)+"/points?wait=true", map[string]any{"points": points}, nil)
		if err != nil {
			return fmt.Errorf("upsert into %s: %w", name, err)
		}
	}
	s.logger.Debug("rows upserted", "collection", name, "rows", len(rows))
	return nil
}

func (s *Store) ensureCollection(ctx context.Context, name string, dim int) error {
	info, err := s.info(ctx, name)
	if err == nil {
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != dim {
			return fmt.Errorf("%w: collection %s has %d, got %d", storage.ErrDimensionMismatch, name, size, dim)
		}
		return nil
	}
	if !errors.Is(err, storage.ErrCollectionNotFound) {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, collectionPath(name), body, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	s.logger.Info("collection created", "collection", name, "dimension", dim)
	return nil
}

// Search embeds query and runs a points search.
func (s *Store) Search(ctx context.Context, name string, query string, topK int) ([]storage.Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", storage.ErrInvalidQuery)
	}
	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      json.Number    `json:"id"`
			Score   float32        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, collectionPath(name)+"/points/search", req, &resp); err != nil {
		if isNotFound(err) {
			return nil, storage.ErrCollectionNotFound
		}
		return nil, err
	}

	hits := make([]storage.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hit := storage.Hit{Score: r.Score}
		if pk, err := r.ID.Int64(); err == nil {
			hit.PK = pk
		}
		if v, ok := r.Payload["text"].(string); ok {
			hit.Text = v
		}
		if v, ok := r.Payload["doc_id"].(string); ok {
			hit.DocID = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Drop deletes the collection. A missing collection is not an error.
func (s *Store) Drop(ctx context.Context, name string) error {
	err := s.do(ctx, http.MethodDelete, collectionPath(name), nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	return nil
}

// Close marks the store closed. Idle connections are released.
func (s *Store) Close() error {
	s.closed.Store(true)
	s.client.CloseIdleConnections()
	return nil
}
