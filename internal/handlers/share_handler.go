package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quizforge/core-service/internal/share"
	"github.com/quizforge/core-service/internal/utils"
	"github.com/quizforge/core-service/internal/validator"
)

// ShareHandler serves public share links. No authentication; anyone with
// the link can play.
type ShareHandler struct {
	BaseHandler
	shares    *share.Manager
	validator *validator.BusinessValidator
}

func NewShareHandler(shares *share.Manager, v *validator.BusinessValidator, logger utils.Logger) *ShareHandler {
	return &ShareHandler{
		BaseHandler: NewBaseHandler(logger),
		shares:      shares,
		validator:   v,
	}
}

type sharedQuestionView struct {
	Question string   `json:"question"`
	Topic    string   `json:"topic"`
	Options  []string `json:"options"`
}

// GetShared resolves a share link to its frozen snapshot. Correct answers
// stay server side; anonymous players submit their score afterwards.
// @Router /shared/{id} [get]
func (h *ShareHandler) GetShared(c *gin.Context) {
	snapshot, err := h.shares.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleShareError(c, err)
		return
	}

	questions := make([]sharedQuestionView, len(snapshot.Questions))
	for i, q := range snapshot.Questions {
		options := make([]string, len(q.Options))
		for j, opt := range q.Options {
			options[j] = opt.Text
		}
		questions[i] = sharedQuestionView{Question: q.Question, Topic: q.Topic, Options: options}
	}

	c.JSON(http.StatusOK, gin.H{
		"name":        snapshot.Name,
		"subject":     snapshot.Subject,
		"questions":   questions,
		"times_taken": snapshot.TimesTaken,
		"leaderboard": snapshot.Leaderboard,
	})
}

// GetAnswers reveals the correct answers for grading a finished run
// @Router /shared/{id}/answers [get]
func (h *ShareHandler) GetAnswers(c *gin.Context) {
	snapshot, err := h.shares.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleShareError(c, err)
		return
	}

	answers := make([]int, len(snapshot.Questions))
	for i := range snapshot.Questions {
		answers[i] = snapshot.Questions[i].CorrectOption()
	}
	c.JSON(http.StatusOK, gin.H{"answers": answers})
}

// RecordPlay logs a finished anonymous run and updates the leaderboard
// @Router /shared/{id}/play [post]
func (h *ShareHandler) RecordPlay(c *gin.Context) {
	h.LogRequest(c, "Recording shared quiz play")

	var req validator.SharePlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Details: err.Error()})
		return
	}
	if errs := h.validator.Validate(&req); errs.HasErrors() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Validation failed", Details: errs.Error()})
		return
	}

	name := req.PlayerName
	if name == "" {
		name = "Anonymous"
	}

	snapshot, err := h.shares.RecordPlay(c.Request.Context(), c.Param("id"), name, req.Score)
	if err != nil {
		h.handleShareError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"times_taken": snapshot.TimesTaken,
		"leaderboard": snapshot.Leaderboard,
	})
}

func (h *ShareHandler) handleShareError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, share.ErrSnapshotNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Shared quiz not found"})
	default:
		h.LogError(c, err, "Unexpected share error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
	}
}
