package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kueri-lab/trecpipe/internal/corpus"
	"github.com/kueri-lab/trecpipe/pkg/config"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
	"github.com/kueri-lab/trecpipe/pkg/metrics"
	"github.com/kueri-lab/trecpipe/pkg/resilience"
)

const apiBreakerName = "quality-api"

type scorePair struct {
	Sentence string `json:"sentence"`
	Topic    string `json:"topic"`
}

type scoreRequest struct {
	Pairs []scorePair `json:"pairs"`
}

type scoreResponse struct {
	Scores []float32 `json:"scores"`
}

// statusError is a non-2xx reply from the scoring service.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("scoring service returned %d: %s", e.code, e.body)
}

// retryable keeps retrying transport failures, throttling and server errors.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// APISource scores (topic title, document text) pairs with a remote
// argument-quality service. Calls are rate limited, retried with backoff
// and guarded by a circuit breaker.
type APISource struct {
	baseURL string
	apiKey  string
	docs    StoredFields
	titles  map[string]string
	client  *http.Client
	policy  *resilience.Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type APIOption func(*APISource)

func WithHTTPClient(c *http.Client) APIOption {
	return func(s *APISource) { s.client = c }
}

func WithAPIMetrics(m *metrics.Metrics) APIOption {
	return func(s *APISource) { s.metrics = m }
}

// NewAPISource reads document text from docs and topic titles from titles.
// Pairs whose topic or document is unknown are reported as not found.
func NewAPISource(cfg config.QualityAPIConfig, docs StoredFields, titles map[string]string, opts ...APIOption) (*APISource, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "quality.NewAPISource", "quality.api.baseURL is required")
	}
	s := &APISource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		docs:    docs,
		titles:  titles,
		client:  &http.Client{},
		logger:  slog.Default().With("component", "quality-api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	pcfg := resilience.FromQualityAPI(cfg)
	pcfg.Backoff.Base = 200 * time.Millisecond
	pcfg.Backoff.Max = 5 * time.Second
	pcfg.Backoff.Retryable = retryable
	pcfg.Breaker = resilience.BreakerConfig{
		Threshold: 5,
		Cooldown:  30 * time.Second,
		OnStateChange: func(name string, state resilience.State) {
			s.metrics.BreakerState(name, int(state))
		},
	}
	s.policy = resilience.NewPolicy(apiBreakerName, pcfg)
	return s, nil
}

func (s *APISource) Name() string { return "api" }

// BreakerState reports the circuit breaker state.
func (s *APISource) BreakerState() resilience.State { return s.policy.State() }

func (s *APISource) Lookup(ctx context.Context, keys []Key) ([]Result, error) {
	const op = "quality.APISource"
	results := make([]Result, len(keys))
	var pairs []scorePair
	var at []int
	for i, k := range keys {
		title, ok := s.titles[k.TopicID]
		if !ok {
			s.logger.Debug("topic has no title", "topic", k.TopicID)
			continue
		}
		text, ok, err := storedText(s.docs, k.DocumentID, corpus.FieldContents)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrResourceUnavailable, op, "reading contents: %v", err).WithDoc(k.DocumentID)
		}
		if !ok {
			s.logger.Debug("document has no stored contents", "doc", k.DocumentID)
			continue
		}
		pairs = append(pairs, scorePair{Sentence: text, Topic: title})
		at = append(at, i)
	}
	if len(pairs) == 0 {
		return results, nil
	}

	scores, err := s.score(ctx, pairs)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrExternalService, op, "scoring %d pairs: %v", len(pairs), err)
	}
	for j, i := range at {
		results[i] = Result{Score: scores[j], Found: true}
	}
	return results, nil
}

func (s *APISource) score(ctx context.Context, pairs []scorePair) ([]float32, error) {
	var scores []float32
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		got, err := s.post(ctx, pairs)
		if err != nil {
			return err
		}
		scores = got
		return nil
	})
	return scores, err
}

func (s *APISource) post(ctx context.Context, pairs []scorePair) ([]float32, error) {
	body, err := json.Marshal(scoreRequest{Pairs: pairs})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling scoring service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Scores) != len(pairs) {
		return nil, fmt.Errorf("scoring service returned %d scores for %d pairs", len(out.Scores), len(pairs))
	}
	return out.Scores, nil
}
