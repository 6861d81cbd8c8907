package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quizforge/core-service/internal/aggregate"
	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/session"
	"github.com/quizforge/core-service/internal/share"
	"github.com/quizforge/core-service/internal/store"
	"github.com/quizforge/core-service/internal/utils"
)

type SessionHandler struct {
	BaseHandler
	sessions *session.Manager
	shares   *share.Manager
}

func NewSessionHandler(sessions *session.Manager, shares *share.Manager, logger utils.Logger) *SessionHandler {
	return &SessionHandler{
		BaseHandler: NewBaseHandler(logger),
		sessions:    sessions,
		shares:      shares,
	}
}

type startSessionRequest struct {
	Source       string `json:"source" binding:"required,oneof=quiz assignment share practice"`
	ID           string `json:"id"`
	TimeLimitSec int    `json:"time_limit_sec" binding:"omitempty,min=10,max=7200"`
}

// sessionView is what the client sees mid-session: the running state plus
// the current question with the correct flags stripped until checked.
type sessionView struct {
	State    session.State     `json:"state"`
	Question *questionView     `json:"question,omitempty"`
	Revealed *models.Question  `json:"revealed,omitempty"`
}

type questionView struct {
	Question string   `json:"question"`
	Topic    string   `json:"topic"`
	Options  []string `json:"options"`
}

// StartSession begins a quiz run from one of the four sources
// @Router /sessions [post]
func (h *SessionHandler) StartSession(c *gin.Context) {
	h.LogRequest(c, "Starting session")

	account, err := GetAccountFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}
	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Details: err.Error()})
		return
	}

	student := session.Student{ID: account.ID, Name: account.Name, Email: account.Email}
	timeLimit := time.Duration(req.TimeLimitSec) * time.Second

	var engine *session.Engine
	switch req.Source {
	case "quiz":
		engine, err = h.sessions.StartFromQuiz(c.Request.Context(), agg, student, req.ID, timeLimit)
	case "assignment":
		engine, err = h.sessions.StartFromAssignment(c.Request.Context(), agg, student, req.ID, timeLimit)
	case "share":
		engine, err = h.sessions.StartFromShare(c.Request.Context(), agg, student, req.ID)
	case "practice":
		engine, err = h.sessions.StartPractice(c.Request.Context(), agg, student)
	}
	if err != nil {
		h.handleSessionError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.view(engine))
}

// GetSession returns the caller's current session state
// @Router /sessions/current [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	engine, ok := h.activeEngine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.view(engine))
}

type selectAnswerRequest struct {
	Index int `json:"index" binding:"min=0"`
}

// SelectAnswer records (or changes) the selection for the current question
// @Router /sessions/current/select [post]
func (h *SessionHandler) SelectAnswer(c *gin.Context) {
	engine, ok := h.activeEngine(c)
	if !ok {
		return
	}

	var req selectAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Details: err.Error()})
		return
	}

	if err := engine.SelectAnswer(req.Index); err != nil {
		h.handleSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(engine))
}

// CheckAnswer locks in the selected answer and reveals the outcome
// @Router /sessions/current/check [post]
func (h *SessionHandler) CheckAnswer(c *gin.Context) {
	engine, ok := h.activeEngine(c)
	if !ok {
		return
	}

	if err := engine.CheckAnswer(); err != nil {
		h.handleSessionError(c, err)
		return
	}

	view := h.view(engine)
	if q, ok := engine.CurrentQuestion(); ok {
		// Answer checked, safe to reveal the full question.
		view.Question = nil
		view.Revealed = &q
	}
	c.JSON(http.StatusOK, view)
}

// NextQuestion advances past an answered question, completing the session
// on the last one
// @Router /sessions/current/next [post]
func (h *SessionHandler) NextQuestion(c *gin.Context) {
	userID, _ := GetUserIDFromContext(c)
	engine, ok := h.activeEngine(c)
	if !ok {
		return
	}

	if err := engine.NextQuestion(c.Request.Context()); err != nil {
		h.handleSessionError(c, err)
		return
	}

	view := h.view(engine)
	if view.State.Phase == session.PhaseCompleted {
		h.sessions.Drop(c.Request.Context(), userID)
	}
	c.JSON(http.StatusOK, view)
}

// AbandonSession exits the session, saving a resume checkpoint
// @Router /sessions/current/abandon [post]
func (h *SessionHandler) AbandonSession(c *gin.Context) {
	h.LogRequest(c, "Abandoning session")

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	if err := h.sessions.Abandon(c.Request.Context(), userID); err != nil {
		h.handleSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"abandoned": true})
}

// GetCheckpoint reports whether an interrupted session can be resumed
// @Router /sessions/checkpoint [get]
func (h *SessionHandler) GetCheckpoint(c *gin.Context) {
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	cp, err := h.sessions.LoadCheckpoint(c.Request.Context(), userID)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

// ResumeSession rebuilds a session from its checkpoint
// @Router /sessions/resume [post]
func (h *SessionHandler) ResumeSession(c *gin.Context) {
	h.LogRequest(c, "Resuming session")

	account, err := GetAccountFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}
	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	cp, err := h.sessions.LoadCheckpoint(c.Request.Context(), account.ID)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}

	questions, err := h.questionsForSource(c, agg, cp.Source)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}

	student := session.Student{ID: account.ID, Name: account.Name, Email: account.Email}
	engine, err := h.sessions.Resume(c.Request.Context(), agg, student, questions, cp)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(engine))
}

// questionsForSource re-derives the question set a checkpoint ran over.
// Practice sets are rebuilt from scratch elsewhere; their checkpoints are
// not resumable.
func (h *SessionHandler) questionsForSource(c *gin.Context, agg *aggregate.Store, src session.Source) ([]models.Question, error) {
	switch {
	case src.AssignmentID != "":
		assignment, err := h.sessions.Assignment(c.Request.Context(), src.AssignmentID)
		if err != nil {
			return nil, err
		}
		return assignment.SnapshotQuestions(), nil
	case src.ShareID != "":
		snapshot, err := h.shares.Resolve(c.Request.Context(), src.ShareID)
		if err != nil {
			return nil, err
		}
		return snapshot.Questions, nil
	case src.QuizID != "":
		quiz, ok := agg.GetQuiz(src.QuizID)
		if !ok {
			return nil, aggregate.ErrQuizNotFound
		}
		return quiz.Questions, nil
	default:
		return nil, session.ErrNoCheckpoint
	}
}

func (h *SessionHandler) activeEngine(c *gin.Context) (*session.Engine, bool) {
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return nil, false
	}
	engine, err := h.sessions.Active(userID)
	if err != nil {
		h.handleSessionError(c, err)
		return nil, false
	}
	return engine, true
}

func (h *SessionHandler) view(engine *session.Engine) sessionView {
	view := sessionView{State: engine.State()}
	if q, ok := engine.CurrentQuestion(); ok {
		options := make([]string, len(q.Options))
		for i, opt := range q.Options {
			options[i] = opt.Text
		}
		view.Question = &questionView{Question: q.Question, Topic: q.Topic, Options: options}
	}
	return view
}

// ===== ERROR HANDLING =====

func (h *SessionHandler) handleSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNoActiveSession), errors.Is(err, session.ErrNoCheckpoint):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "No active session"})
	case errors.Is(err, session.ErrSessionInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "A session is already in progress"})
	case errors.Is(err, session.ErrNothingDue):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "No questions are due for review"})
	case errors.Is(err, session.ErrAlreadyAnswered):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Question already answered"})
	case errors.Is(err, session.ErrNotAnswered):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Check the answer before moving on"})
	case errors.Is(err, session.ErrNoSelection):
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Select an answer first"})
	case errors.Is(err, session.ErrSessionNotActive), errors.Is(err, session.ErrSessionCompleted):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Session is not in progress"})
	case errors.Is(err, aggregate.ErrQuizNotFound), errors.Is(err, share.ErrSnapshotNotFound), store.IsNotFoundError(err):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Resource not found"})
	default:
		h.LogError(c, err, "Unexpected session error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
	}
}
