package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/quizforge/core-service/internal/models"
)

// MaxContentLength truncates uploaded course material before it reaches
// the model; anything longer adds cost without adding signal.
const MaxContentLength = 30000

// DefaultTimeout is deliberately in minutes: generation is slow and the
// caller already shows incremental progress.
const DefaultTimeout = 3 * time.Minute

var (
	ErrEmptyContent    = errors.New("content too short to generate questions")
	ErrNoQuestions     = errors.New("model returned no usable questions")
	ErrGenerationAbort = errors.New("generation cancelled")
)

// Request mirrors the generation contract: course content plus shaping
// parameters.
type Request struct {
	Content       string                 `json:"content" validate:"required,min=100"`
	Subject       string                 `json:"subject" validate:"required,max=100"`
	NumQuestions  int                    `json:"num_questions" validate:"required,min=1,max=30"`
	Difficulty    models.DifficultyLevel `json:"difficulty" validate:"required,difficulty_level"`
	TopicFocus    string                 `json:"topic_focus" validate:"omitempty,max=200"`
	QuestionStyle string                 `json:"question_style" validate:"omitempty,max=100"`
	QuestionType  models.QuestionType    `json:"question_type" validate:"required,question_type"`
}

// Client produces quiz questions from course material through the Gemini
// API. Failed generations are never retried automatically; the user
// re-triggers.
type Client struct {
	apiKey  string
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

func NewClient(apiKey string, logger *slog.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   "gemini-2.0-flash",
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// Generate calls the model and parses its JSON answer into validated
// questions. The context carries the abort signal; a hard timeout applies
// on top of it.
func (c *Client) Generate(ctx context.Context, req Request) ([]models.Question, error) {
	content := strings.TrimSpace(req.Content)
	if len(content) < 100 {
		return nil, ErrEmptyContent
	}
	if len(content) > MaxContentLength {
		content = content[:MaxContentLength]
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("create generation client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(c.model)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(c.buildPrompt(req, content)))
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ErrGenerationAbort
		}
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrNoQuestions
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, ErrNoQuestions
	}

	questions, err := parseQuestions(string(text))
	if err != nil {
		return nil, err
	}

	c.logger.Info("Questions generated",
		"subject", req.Subject,
		"requested", req.NumQuestions,
		"returned", len(questions))
	return questions, nil
}

func (c *Client) buildPrompt(req Request, content string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate exactly %d %s questions about %s at %s difficulty from the study material below.\n",
		req.NumQuestions, req.QuestionType, req.Subject, req.Difficulty)
	if req.TopicFocus != "" {
		fmt.Fprintf(&b, "Focus on: %s.\n", req.TopicFocus)
	}
	if req.QuestionStyle != "" {
		fmt.Fprintf(&b, "Question style: %s.\n", req.QuestionStyle)
	}
	b.WriteString(`Reply with a JSON array only. Each element: {"question": string, "topic": string, "options": [{"text": string, "is_correct": bool}], "explanation": string}. `)
	if req.QuestionType == models.QuestionTrueFalse {
		b.WriteString("Each question has exactly the two options True and False. ")
	} else {
		b.WriteString("Each question has exactly four options. ")
	}
	b.WriteString("Exactly one option per question is correct.\n\nStudy material:\n")
	b.WriteString(content)
	return b.String()
}

// parseQuestions decodes the model output, tolerating markdown fences, and
// drops anything that violates the exactly-one-correct invariant.
func parseQuestions(raw string) ([]models.Question, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var decoded []models.Question
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("decode generated questions: %w", err)
	}

	questions := decoded[:0]
	for _, q := range decoded {
		if !q.IsWellFormed() {
			continue
		}
		if q.ID == "" {
			q.ID = uuid.New().String()
		}
		questions = append(questions, q)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	return questions, nil
}
