package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quizforge/core-service/internal/aggregate"
	"github.com/quizforge/core-service/internal/extract"
	"github.com/quizforge/core-service/internal/generation"
	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/share"
	"github.com/quizforge/core-service/internal/utils"
	"github.com/quizforge/core-service/internal/validator"
)

type QuizHandler struct {
	BaseHandler
	generator *generation.Client
	shares    *share.Manager
	validator *validator.BusinessValidator
}

func NewQuizHandler(generator *generation.Client, shares *share.Manager, v *validator.BusinessValidator, logger utils.Logger) *QuizHandler {
	return &QuizHandler{
		BaseHandler: NewBaseHandler(logger),
		generator:   generator,
		shares:      shares,
		validator:   v,
	}
}

// ===== QUIZ CRUD =====

// CreateQuiz creates a quiz from prepared questions
// @Router /quizzes [post]
func (h *QuizHandler) CreateQuiz(c *gin.Context) {
	h.LogRequest(c, "Creating quiz")

	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	var req validator.QuizCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Details: err.Error()})
		return
	}
	if errs := h.validator.ValidateQuizCreate(&req); errs.HasErrors() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Validation failed", Details: errs.Error()})
		return
	}

	for i := range req.Questions {
		if req.Questions[i].ID == "" {
			req.Questions[i].ID = uuid.New().String()
		}
		if req.Questions[i].Difficulty == "" {
			req.Questions[i].Difficulty = req.Difficulty
		}
	}

	quiz := models.Quiz{
		ID:        uuid.New().String(),
		Name:      req.Title,
		Subject:   req.Subject,
		Questions: req.Questions,
		CreatedAt: time.Now(),
	}
	agg.AddQuiz(quiz)

	c.JSON(http.StatusCreated, quiz)
}

// ListQuizzes returns every quiz owned by the caller
// @Router /quizzes [get]
func (h *QuizHandler) ListQuizzes(c *gin.Context) {
	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	snapshot := agg.Snapshot()
	c.JSON(http.StatusOK, gin.H{"quizzes": snapshot.Quizzes})
}

// GetQuiz returns a single quiz
// @Router /quizzes/{id} [get]
func (h *QuizHandler) GetQuiz(c *gin.Context) {
	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	quiz, ok := agg.GetQuiz(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Quiz not found"})
		return
	}
	c.JSON(http.StatusOK, quiz)
}

// UpdateQuiz updates quiz metadata and publication state
// @Router /quizzes/{id} [put]
func (h *QuizHandler) UpdateQuiz(c *gin.Context) {
	h.LogRequest(c, "Updating quiz")

	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	var req validator.QuizUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Details: err.Error()})
		return
	}
	if errs := h.validator.Validate(&req); errs.HasErrors() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Validation failed", Details: errs.Error()})
		return
	}

	quizID := c.Param("id")
	if req.Title != nil || req.Subject != nil {
		name, subject := "", ""
		if req.Title != nil {
			name = *req.Title
		}
		if req.Subject != nil {
			subject = *req.Subject
		}
		if err := agg.RenameQuiz(quizID, name, subject); err != nil {
			h.handleStateError(c, err)
			return
		}
	}
	if req.Published != nil {
		if err := agg.SetQuizPublished(quizID, *req.Published); err != nil {
			h.handleStateError(c, err)
			return
		}
	}

	quiz, _ := agg.GetQuiz(quizID)
	c.JSON(http.StatusOK, quiz)
}

// UpdateQuestion edits one question inside a quiz
// @Router /quizzes/{id}/questions/{index} [put]
func (h *QuizHandler) UpdateQuestion(c *gin.Context) {
	h.LogRequest(c, "Updating question")

	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid question index"})
		return
	}

	var req validator.QuestionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Details: err.Error()})
		return
	}
	if errs := h.validator.ValidateQuestionUpdate(&req); errs.HasErrors() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Validation failed", Details: errs.Error()})
		return
	}

	question := models.Question{
		Question:    req.Question,
		Topic:       req.Topic,
		Type:        req.Type,
		Explanation: req.Explanation,
	}
	for _, opt := range req.Options {
		question.Options = append(question.Options, models.QuestionOption{Text: opt.Text})
	}

	if err := agg.UpdateQuestion(c.Param("id"), index, question, req.CorrectOption); err != nil {
		h.handleStateError(c, err)
		return
	}

	quiz, _ := agg.GetQuiz(c.Param("id"))
	c.JSON(http.StatusOK, quiz)
}

// DeleteQuiz removes a quiz from the caller's collection
// @Router /quizzes/{id} [delete]
func (h *QuizHandler) DeleteQuiz(c *gin.Context) {
	h.LogRequest(c, "Deleting quiz")

	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	if err := agg.DeleteQuiz(c.Param("id")); err != nil {
		h.handleStateError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ===== GENERATION =====

type generateResponse struct {
	Quiz     models.Quiz          `json:"quiz"`
	Warnings []string             `json:"warnings,omitempty"`
	Files    []extract.FileResult `json:"-"`
}

// GenerateQuiz extracts text from uploaded course files and generates a
// quiz with the AI model
// @Router /quizzes/generate [post]
func (h *QuizHandler) GenerateQuiz(c *gin.Context) {
	h.LogRequest(c, "Generating quiz from uploads")

	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid multipart form", Details: err.Error()})
		return
	}

	req := generation.Request{
		Subject:       c.PostForm("subject"),
		Difficulty:    models.DifficultyLevel(c.DefaultPostForm("difficulty", string(models.DifficultyIntermediate))),
		TopicFocus:    c.PostForm("topic_focus"),
		QuestionStyle: c.PostForm("question_style"),
		QuestionType:  models.QuestionType(c.DefaultPostForm("question_type", string(models.QuestionMultipleChoice))),
	}
	req.NumQuestions, _ = strconv.Atoi(c.DefaultPostForm("num_questions", "10"))

	files := make(map[string]io.Reader)
	var closers []io.Closer
	defer func() {
		for _, cl := range closers {
			cl.Close()
		}
	}()
	for _, fh := range form.File["files"] {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Could not read upload", Details: err.Error()})
			return
		}
		closers = append(closers, f)
		files[fh.Filename] = f
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "At least one file is required"})
		return
	}

	var warnings []string
	var content strings.Builder
	for _, result := range extract.Batch(files) {
		if result.Err != nil {
			warnings = append(warnings, result.Name+": "+result.Err.Error())
			continue
		}
		content.WriteString(result.Text)
		content.WriteString("\n\n")
	}

	req.Content = content.String()
	questions, err := h.generator.Generate(c.Request.Context(), req)
	if err != nil {
		h.handleGenerationError(c, err)
		return
	}

	quiz := models.Quiz{
		ID:        uuid.New().String(),
		Name:      c.DefaultPostForm("title", req.Subject+" quiz"),
		Subject:   req.Subject,
		Questions: questions,
		CreatedAt: time.Now(),
	}
	agg.AddQuiz(quiz)

	c.JSON(http.StatusCreated, generateResponse{Quiz: quiz, Warnings: warnings})
}

// ===== SHARING =====

// ShareQuiz mints (or returns) the quiz's share link
// @Router /quizzes/{id}/share [post]
func (h *QuizHandler) ShareQuiz(c *gin.Context) {
	h.LogRequest(c, "Sharing quiz")

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}
	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	quiz, ok := agg.GetQuiz(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Quiz not found"})
		return
	}

	shareID, err := h.shares.GetOrCreateShareID(c.Request.Context(), &quiz, userID)
	if err != nil {
		h.LogError(c, err, "Share creation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Could not create share link"})
		return
	}
	if err := agg.SetShareID(quiz.ID, shareID); err != nil {
		h.handleStateError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"share_id": shareID})
}

// ===== QUESTION BANK =====

// GetQuestionBank returns the caller's accumulated question bank
// @Router /question-bank [get]
func (h *QuizHandler) GetQuestionBank(c *gin.Context) {
	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	snapshot := agg.Snapshot()
	c.JSON(http.StatusOK, gin.H{"questions": snapshot.QuestionBank})
}

// AddToQuestionBank appends questions to the bank
// @Router /question-bank [post]
func (h *QuizHandler) AddToQuestionBank(c *gin.Context) {
	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	var req struct {
		Questions []models.Question `json:"questions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Details: err.Error()})
		return
	}

	valid := req.Questions[:0]
	for _, q := range req.Questions {
		if q.IsWellFormed() {
			if q.ID == "" {
				q.ID = uuid.New().String()
			}
			valid = append(valid, q)
		}
	}
	agg.AppendToQuestionBank(valid)

	c.JSON(http.StatusOK, gin.H{"added": len(valid)})
}

// ===== ERROR HANDLING =====

func (h *QuizHandler) handleStateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, aggregate.ErrQuizNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Quiz not found"})
	default:
		h.LogError(c, err, "Unexpected state error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
	}
}

func (h *QuizHandler) handleGenerationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, generation.ErrEmptyContent):
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Uploaded files contain too little text"})
	case errors.Is(err, generation.ErrNoQuestions):
		c.JSON(http.StatusBadGateway, ErrorResponse{Message: "The model returned no usable questions, try again"})
	case errors.Is(err, generation.ErrGenerationAbort):
		c.JSON(http.StatusRequestTimeout, ErrorResponse{Message: "Generation cancelled"})
	default:
		h.LogError(c, err, "Generation failed")
		c.JSON(http.StatusBadGateway, ErrorResponse{Message: "Question generation failed", Details: err.Error()})
	}
}
