// internal/classifier/classifier.go
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/metrics"
	"github-activity-sync/internal/model"
)

// maxAttempts is how many responses are requested before degrading.
const maxAttempts = 2

// ChatCompleter is the part of *openai.Client the classifier uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Status tags a classification result.
type Status string

const (
	StatusClassified Status = "classified"
	StatusDegraded   Status = "degraded"
)

// Result is the outcome of one commit classification. A degraded result
// carries CategoryUnclassified and no tags.
type Result struct {
	Status   Status
	TechTags []string
	Category model.WorkCategory
	Attempts int
	Reason   string
}

func (r Result) Degraded() bool { return r.Status == StatusDegraded }

// Err describes a degraded result as an error value for logging.
func (r Result) Err() error {
	if !r.Degraded() {
		return nil
	}
	return &apperrors.ClassificationDegraded{Attempts: r.Attempts, Reason: r.Reason}
}

// CommitInput is the text sent to the model for one commit.
type CommitInput struct {
	RepositoryName string
	Message        string
	DiffSummary    string
}

// TechAnalysis is the stack description stored on a repository.
type TechAnalysis struct {
	Domain         string   `json:"domain"`
	DomainDetail   string   `json:"domain_detail,omitempty"`
	Frameworks     []string `json:"frameworks"`
	Tools          []string `json:"tools,omitempty"`
	Infrastructure []string `json:"infrastructure,omitempty"`
	ProjectType    string   `json:"project_type"`
	Degraded       bool     `json:"degraded,omitempty"`
}

// RepositoryInput describes a repository for stack analysis.
type RepositoryInput struct {
	FullName    string
	Description string
	Languages   map[string]int
	Manifests   map[string]string
}

// Config tunes the classifier.
type Config struct {
	Model             string
	RequestsPerMinute int
	Timeout           time.Duration
}

// Classifier calls an OpenAI-compatible chat endpoint and validates its JSON
// output. It never returns an error: failures become degraded results.
type Classifier struct {
	llm     ChatCompleter
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

// NewOpenAIClient builds a go-openai client for an OpenAI-compatible endpoint.
func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: timeout}
	}
	return openai.NewClientWithConfig(config)
}

func New(llm ChatCompleter, cfg Config, logger *slog.Logger) *Classifier {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	}
	c := &Classifier{
		llm:     llm,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "ai-classifier",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.ClassifierBreakerState.Set(float64(to))
			logger.Warn("AI circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

const commitSystemPrompt = `You classify git commits. Reply with a JSON object only:
{"tech_tags": [technologies, languages, frameworks or tools the change touches, lowercase, at most 10],
 "work_category": one of "feature", "bugfix", "refactor", "test", "docs", "ci", "style", "performance", "security", "dependency"}`

// Classify asks the model for tags and a category. Malformed output or a
// failed call is retried once; the second failure yields a degraded result.
func (c *Classifier) Classify(ctx context.Context, in CommitInput) Result {
	prompt := fmt.Sprintf("Repository: %s\n\nCommit message:\n%s\n\nChanges:\n%s", in.RepositoryName, in.Message, in.DiffSummary)

	var reason string
	attempts := 0
	for attempts < maxAttempts {
		attempts++
		raw, err := c.complete(ctx, commitSystemPrompt, prompt)
		if err != nil {
			reason = err.Error()
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
				break
			}
			continue
		}
		var out struct {
			TechTags     []string `json:"tech_tags"`
			WorkCategory string   `json:"work_category"`
		}
		if err := decode(ctx, commitSchema, raw, &out); err != nil {
			reason = err.Error()
			continue
		}
		metrics.Classifications.WithLabelValues(string(StatusClassified)).Inc()
		return Result{
			Status:   StatusClassified,
			TechTags: normalizeTags(out.TechTags),
			Category: model.WorkCategory(out.WorkCategory),
			Attempts: attempts,
		}
	}
	metrics.Classifications.WithLabelValues(string(StatusDegraded)).Inc()
	return Result{Status: StatusDegraded, TechTags: []string{}, Category: model.CategoryUnclassified, Attempts: attempts, Reason: reason}
}

const repositorySystemPrompt = `You describe the technology stack of a software repository. Reply with a JSON object only:
{"domain": short domain such as "web", "mobile", "data", "devops", "ml", "game", "library", "cli" or "general",
 "domain_detail": one sentence, "frameworks": [...], "tools": [...], "infrastructure": [...],
 "project_type": e.g. "application", "library", "service", "tooling"}`

// ClassifyRepository describes a repository's stack. On failure it returns a
// degraded analysis with domain "general".
func (c *Classifier) ClassifyRepository(ctx context.Context, in RepositoryInput) TechAnalysis {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n", in.FullName)
	if in.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", in.Description)
	}
	if len(in.Languages) > 0 {
		langs := make([]string, 0, len(in.Languages))
		for lang, bytes := range in.Languages {
			langs = append(langs, fmt.Sprintf("%s (%d bytes)", lang, bytes))
		}
		sort.Strings(langs)
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(langs, ", "))
	}
	names := make([]string, 0, len(in.Manifests))
	for name := range in.Manifests {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", name, in.Manifests[name])
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, err := c.complete(ctx, repositorySystemPrompt, b.String())
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || ctx.Err() != nil {
				break
			}
			continue
		}
		var out TechAnalysis
		if err := decode(ctx, repositorySchema, raw, &out); err != nil {
			c.logger.Debug("Discarding malformed stack analysis", "repo", in.FullName, "error", err)
			continue
		}
		out.Frameworks = normalizeTags(out.Frameworks)
		out.Tools = normalizeTags(out.Tools)
		out.Infrastructure = normalizeTags(out.Infrastructure)
		return out
	}
	return TechAnalysis{Domain: "general", Frameworks: []string{}, ProjectType: "unknown", Degraded: true}
}

// complete sends one chat request through the rate limiter and circuit breaker.
func (c *Classifier) complete(ctx context.Context, system, user string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return c.breaker.Execute(func() (string, error) {
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		resp, err := c.llm.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
			Temperature:    0.1,
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("empty completion")
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// normalizeTags lowercases, trims and deduplicates, returning a sorted set.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// DiffSummary renders the stored file list as compact text for the prompt.
func DiffSummary(c model.Commit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d files changed, +%d -%d\n", c.FilesChanged, c.Additions, c.Deletions)
	for _, f := range c.Details.Files {
		fmt.Fprintf(&b, "%s %s (+%d -%d)\n", f.Status, f.Filename, f.Additions, f.Deletions)
		if f.Patch != "" {
			b.WriteString(f.Patch)
			b.WriteString("\n")
		}
	}
	return b.String()
}
