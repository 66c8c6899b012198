package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/kueri-lab/trecpipe/internal/corpus"
	"github.com/kueri-lab/trecpipe/pkg/config"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
	"github.com/kueri-lab/trecpipe/pkg/resilience"
)

const judgeSystemPrompt = `You assess the quality of arguments. Given a debate topic and a passage, ` +
	`rate how well the passage argues about the topic on a scale from 0 (no argument) to 1 ` +
	`(clear, relevant and well supported). Reply with the number only.`

var numberPattern = regexp.MustCompile(`[-+]?[0-9]*\.?[0-9]+`)

// JudgeSource asks a chat model to rate each (topic title, document text)
// pair. Replies that contain no number are reported as not found.
type JudgeSource struct {
	client *openai.Client
	model  string
	docs   StoredFields
	titles map[string]string
	policy *resilience.Policy
	logger *slog.Logger
}

// NewJudgeSource throttles and retries with the quality API settings in
// limits. Up to limits.Burst completions run at once.
func NewJudgeSource(cfg config.JudgeConfig, limits config.QualityAPIConfig, docs StoredFields, titles map[string]string) (*JudgeSource, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "quality.NewJudgeSource", "quality.judge needs an apiKey or a baseURL")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	pcfg := resilience.FromQualityAPI(limits)
	pcfg.Backoff.Base = 500 * time.Millisecond
	pcfg.Backoff.Retryable = judgeRetryable
	return &JudgeSource{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		docs:   docs,
		titles: titles,
		policy: resilience.NewPolicy("quality-judge", pcfg),
		logger: slog.Default().With("component", "quality-judge"),
	}, nil
}

func judgeRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func (s *JudgeSource) Name() string { return "judge:" + s.model }

func (s *JudgeSource) Lookup(ctx context.Context, keys []Key) ([]Result, error) {
	const op = "quality.JudgeSource"
	type job struct {
		i           int
		title, text string
	}
	// Read every passage before any request starts so a store error
	// leaves nothing in flight.
	var jobs []job
	for i, k := range keys {
		title, ok := s.titles[k.TopicID]
		if !ok {
			continue
		}
		text, ok, err := storedText(s.docs, k.DocumentID, corpus.FieldContents)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrResourceUnavailable, op, "reading contents: %v", err).WithDoc(k.DocumentID)
		}
		if ok {
			jobs = append(jobs, job{i: i, title: title, text: text})
		}
	}

	results := make([]Result, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.policy.Burst())
	for _, j := range jobs {
		k := keys[j.i]
		g.Go(func() error {
			score, ok, err := s.judge(gctx, j.title, j.text)
			if err != nil {
				return apperrors.Newf(apperrors.ErrExternalService, op, "judging: %v", err).WithTopic(k.TopicID).WithDoc(k.DocumentID)
			}
			if !ok {
				s.logger.Warn("judge reply has no score", "topic", k.TopicID, "doc", k.DocumentID)
				return nil
			}
			results[j.i] = Result{Score: score, Found: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *JudgeSource) judge(ctx context.Context, topic, passage string) (float32, bool, error) {
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: judgeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Topic: %s\n\nPassage: %s", topic, passage)},
		},
		Temperature: 0,
		MaxTokens:   8,
	}
	var reply string
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty completion")
		}
		reply = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	score, ok := parseJudgement(reply)
	return score, ok, nil
}

// parseJudgement takes the first number in reply, clamped to [0, 1].
func parseJudgement(reply string) (float32, bool) {
	m := numberPattern.FindString(strings.TrimSpace(reply))
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 32)
	if err != nil {
		return 0, false
	}
	return float32(min(max(v, 0), 1)), true
}
