package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/progress"
	"github.com/quizforge/core-service/internal/review"
	"github.com/quizforge/core-service/internal/utils"
)

type ProgressHandler struct {
	BaseHandler
	progress  *progress.Engine
	scheduler *review.Scheduler
}

func NewProgressHandler(progressEngine *progress.Engine, scheduler *review.Scheduler, logger utils.Logger) *ProgressHandler {
	return &ProgressHandler{
		BaseHandler: NewBaseHandler(logger),
		progress:    progressEngine,
		scheduler:   scheduler,
	}
}

// GetProgress returns the caller's full progress record
// @Router /progress [get]
func (h *ProgressHandler) GetProgress(c *gin.Context) {
	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	snapshot := agg.Snapshot()
	p := snapshot.Progress
	if p == nil {
		p = models.NewStudentProgress()
	}
	c.JSON(http.StatusOK, p)
}

// GetWeakTopics returns topics below the mastery threshold
// @Router /progress/weak-topics [get]
func (h *ProgressHandler) GetWeakTopics(c *gin.Context) {
	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	snapshot := agg.Snapshot()
	var topics []string
	if snapshot.Progress != nil {
		topics = h.progress.WeakTopics(snapshot.Progress)
	}
	c.JSON(http.StatusOK, gin.H{"weak_topics": topics})
}

// GetReviewStatus reports how many bank questions are due for practice
// @Router /progress/review [get]
func (h *ProgressHandler) GetReviewStatus(c *gin.Context) {
	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	snapshot := agg.Snapshot()
	histories := map[string]*models.QuestionHistory{}
	if snapshot.Progress != nil {
		histories = snapshot.Progress.QuestionHistory
	}
	due := h.scheduler.DueQuestions(snapshot.QuestionBank, histories)

	c.JSON(http.StatusOK, gin.H{
		"bank_size": len(snapshot.QuestionBank),
		"due_count": len(due),
	})
}

// GetAchievements returns the achievement catalog annotated with earned
// state
// @Router /progress/achievements [get]
func (h *ProgressHandler) GetAchievements(c *gin.Context) {
	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	snapshot := agg.Snapshot()
	p := snapshot.Progress
	if p == nil {
		p = models.NewStudentProgress()
	}

	type achievementView struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Message string `json:"message"`
		Earned  bool   `json:"earned"`
	}
	out := make([]achievementView, 0, len(progress.Catalog))
	for _, a := range progress.Catalog {
		out = append(out, achievementView{
			ID:      a.ID,
			Title:   a.Title,
			Message: a.Message,
			Earned:  p.HasAchievement(a.ID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"achievements": out})
}
