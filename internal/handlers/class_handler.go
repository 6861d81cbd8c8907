package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/store"
	"github.com/quizforge/core-service/internal/utils"
	"github.com/quizforge/core-service/internal/validator"
)

type ClassHandler struct {
	BaseHandler
	collections *store.CollectionStore
	validator   *validator.BusinessValidator
}

func NewClassHandler(collections *store.CollectionStore, v *validator.BusinessValidator, logger utils.Logger) *ClassHandler {
	return &ClassHandler{
		BaseHandler: NewBaseHandler(logger),
		collections: collections,
		validator:   v,
	}
}

// ===== CLASSES =====

// CreateClass creates a class with a fresh join code
// @Router /classes [post]
func (h *ClassHandler) CreateClass(c *gin.Context) {
	h.LogRequest(c, "Creating class")

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

	var req validator.ClassCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Details: err.Error()})
		return
	}
	if errs := h.validator.Validate(&req); errs.HasErrors() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Validation failed", Details: errs.Error()})
		return
	}

	class := models.Class{
		Name:        req.Name,
		TeacherID:   account.ID,
		TeacherName: account.Name,
	}
	if err := h.collections.CreateClass(c.Request.Context(), &class); err != nil {
		h.handleStoreError(c, err)
		return
	}
	agg.AddClass(class)

	c.JSON(http.StatusCreated, class)
}

// ListClasses returns classes the caller teaches and has joined
// @Router /classes [get]
func (h *ClassHandler) ListClasses(c *gin.Context) {
	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	snapshot := agg.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"classes":        snapshot.Classes,
		"joined_classes": snapshot.JoinedClasses,
	})
}

// JoinClass adds the caller to a class roster by join code
// @Router /classes/join [post]
func (h *ClassHandler) JoinClass(c *gin.Context) {
	h.LogRequest(c, "Joining class")

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

	var req validator.ClassJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Details: err.Error()})
		return
	}
	if errs := h.validator.Validate(&req); errs.HasErrors() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Validation failed", Details: errs.Error()})
		return
	}

	class, err := h.collections.GetClassByCode(c.Request.Context(), req.Code)
	if err != nil {
		h.handleStoreError(c, err)
		return
	}

	updated, err := h.collections.AddStudent(c.Request.Context(), class.ID, models.ClassStudent{
		StudentID: account.ID,
		Name:      account.Name,
		Email:     account.Email,
		JoinedAt:  time.Now(),
	})
	if err != nil {
		h.handleStoreError(c, err)
		return
	}
	agg.AddJoinedClass(*updated)

	c.JSON(http.StatusOK, updated)
}

// LeaveClass removes the caller from a class roster
// @Router /classes/{id}/leave [post]
func (h *ClassHandler) LeaveClass(c *gin.Context) {
	h.LogRequest(c, "Leaving class")

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

	classID := c.Param("id")
	if _, err := h.collections.RemoveStudent(c.Request.Context(), classID, userID); err != nil {
		h.handleStoreError(c, err)
		return
	}
	agg.RemoveJoinedClass(classID)

	c.JSON(http.StatusOK, gin.H{"left": true})
}

// DeleteClass removes a class the caller teaches
// @Router /classes/{id} [delete]
func (h *ClassHandler) DeleteClass(c *gin.Context) {
	h.LogRequest(c, "Deleting class")

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	class, err := h.collections.GetClass(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleStoreError(c, err)
		return
	}
	if class.TeacherID != userID {
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "Only the class teacher can delete it"})
		return
	}

	if err := h.collections.DeleteClass(c.Request.Context(), class.ID); err != nil {
		h.handleStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ===== ASSIGNMENTS =====

// CreateAssignment snapshots a quiz into an assignment for a class
// @Router /assignments [post]
func (h *ClassHandler) CreateAssignment(c *gin.Context) {
	h.LogRequest(c, "Creating assignment")

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

	var req validator.AssignmentCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Details: err.Error()})
		return
	}
	if errs := h.validator.ValidateAssignmentCreate(&req); errs.HasErrors() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Validation failed", Details: errs.Error()})
		return
	}

	quiz, ok := agg.GetQuiz(req.QuizID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Quiz not found"})
		return
	}

	class, err := h.collections.GetClass(c.Request.Context(), req.ClassID)
	if err != nil {
		h.handleStoreError(c, err)
		return
	}
	if class.TeacherID != account.ID {
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "Only the class teacher can assign quizzes"})
		return
	}

	questions, err := models.NewQuestionSnapshot(quiz.Questions)
	if err != nil {
		h.LogError(c, err, "Question snapshot failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
		return
	}

	weight := req.Weight
	if weight == 0 {
		weight = 100
	}
	assignment := models.Assignment{
		ID:            uuid.New().String(),
		QuizID:        quiz.ID,
		QuizName:      quiz.Name,
		ClassID:       class.ID,
		QuizQuestions: questions,
		Weight:        weight,
		DueDate:       req.DueDate,
		TeacherID:     account.ID,
		CreatedAt:     time.Now(),
	}
	if err := h.collections.CreateAssignment(c.Request.Context(), &assignment); err != nil {
		h.handleStoreError(c, err)
		return
	}
	agg.AddAssignment(assignment)

	c.JSON(http.StatusCreated, assignment)
}

// ListAssignments returns assignments visible to the caller
// @Router /assignments [get]
func (h *ClassHandler) ListAssignments(c *gin.Context) {
	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	snapshot := agg.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"assignments": snapshot.Assignments,
		"pending":     agg.PendingAssignments(),
	})
}

// ListSubmissions returns the submissions for one assignment
// @Router /assignments/{id}/submissions [get]
func (h *ClassHandler) ListSubmissions(c *gin.Context) {
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	assignment, err := h.collections.GetAssignment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleStoreError(c, err)
		return
	}
	if assignment.TeacherID != userID {
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "Only the assignment owner can view submissions"})
		return
	}

	submissions, err := h.collections.GetSubmissionsByAssignmentIDs(c.Request.Context(), []string{assignment.ID})
	if err != nil {
		h.handleStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": submissions})
}

// ExportSubmissions streams the assignment's submissions as a spreadsheet
// @Router /assignments/{id}/submissions/export [get]
func (h *ClassHandler) ExportSubmissions(c *gin.Context) {
	h.LogRequest(c, "Exporting submissions")

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	assignment, err := h.collections.GetAssignment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleStoreError(c, err)
		return
	}
	if assignment.TeacherID != userID {
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "Only the assignment owner can export submissions"})
		return
	}

	submissions, err := h.collections.GetSubmissionsByAssignmentIDs(c.Request.Context(), []string{assignment.ID})
	if err != nil {
		h.handleStoreError(c, err)
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Submissions"
	f.SetSheetName("Sheet1", sheet)
	headers := []string{"Student", "Email", "Score", "Total", "Percentage", "Submitted At"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, header)
	}
	for row, sub := range submissions {
		values := []interface{}{
			sub.StudentName,
			sub.StudentEmail,
			sub.Score,
			sub.Total,
			fmt.Sprintf("%.1f%%", sub.Percentage),
			sub.SubmittedAt.Format(time.RFC3339),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	filename := fmt.Sprintf("%s-submissions.xlsx", assignment.QuizName)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		h.LogError(c, err, "Spreadsheet write failed")
	}
}

// ===== ERROR HANDLING =====

func (h *ClassHandler) handleStoreError(c *gin.Context, err error) {
	switch {
	case store.IsNotFoundError(err):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Resource not found"})
	case errors.Is(err, store.ErrAlreadyJoined):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Already a member of this class"})
	case errors.Is(err, store.ErrNotJoined):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Not a member of this class"})
	case errors.Is(err, store.ErrCodeGenerationFailed):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Message: "Could not generate a class code, try again"})
	default:
		h.LogError(c, err, "Unexpected store error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
	}
}
