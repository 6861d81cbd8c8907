package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/quizforge/core-service/internal/billing"
	"github.com/quizforge/core-service/internal/generation"
	"github.com/quizforge/core-service/internal/identity"
	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/progress"
	"github.com/quizforge/core-service/internal/review"
	"github.com/quizforge/core-service/internal/session"
	"github.com/quizforge/core-service/internal/share"
	"github.com/quizforge/core-service/internal/store"
	"github.com/quizforge/core-service/internal/utils"
	"github.com/quizforge/core-service/internal/validator"
)

type HandlerManager struct {
	quizHandler     *QuizHandler
	classHandler    *ClassHandler
	sessionHandler  *SessionHandler
	accountHandler  *AccountHandler
	progressHandler *ProgressHandler
	shareHandler    *ShareHandler
	wsHandler       *WSHandler
	authMiddleware  *CasdoorAuthMiddleware
}

type HandlerDeps struct {
	Identity    *identity.SessionManager
	Collections *store.CollectionStore
	Documents   store.DocumentStore
	Sessions    *session.Manager
	Shares      *share.Manager
	Progress    *progress.Engine
	Scheduler   *review.Scheduler
	Generator   *generation.Client
	Billing     *billing.Client
	Validator   *validator.BusinessValidator
	Logger      utils.Logger
}

func NewHandlerManager(deps HandlerDeps) *HandlerManager {
	return &HandlerManager{
		quizHandler:     NewQuizHandler(deps.Generator, deps.Shares, deps.Validator, deps.Logger),
		classHandler:    NewClassHandler(deps.Collections, deps.Validator, deps.Logger),
		sessionHandler:  NewSessionHandler(deps.Sessions, deps.Shares, deps.Logger),
		accountHandler:  NewAccountHandler(deps.Identity, deps.Billing, deps.Collections, deps.Documents, deps.Validator, deps.Logger),
		progressHandler: NewProgressHandler(deps.Progress, deps.Scheduler, deps.Logger),
		shareHandler:    NewShareHandler(deps.Shares, deps.Validator, deps.Logger),
		wsHandler:       NewWSHandler(deps.Logger),
		authMiddleware:  NewCasdoorAuthMiddleware(deps.Identity),
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// Public routes: signup, shared quiz play, payment webhooks
	router.POST("/auth/signup", hm.accountHandler.SignUp)
	router.POST("/billing/notifications", hm.accountHandler.PaymentNotification)

	shared := router.Group("/shared")
	shared.Use(hm.authMiddleware.OptionalAuthMiddleware())
	{
		shared.GET("/:id", hm.shareHandler.GetShared)
		shared.GET("/:id/answers", hm.shareHandler.GetAnswers)
		shared.POST("/:id/play", hm.shareHandler.RecordPlay)
	}

	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		v1.POST("/auth/logout", hm.accountHandler.Logout)

		// Quiz routes
		quizzes := v1.Group("/quizzes")
		{
			quizzes.POST("", hm.quizHandler.CreateQuiz)
			quizzes.POST("/generate", hm.quizHandler.GenerateQuiz)
			quizzes.GET("", hm.quizHandler.ListQuizzes)
			quizzes.GET("/:id", hm.quizHandler.GetQuiz)
			quizzes.PUT("/:id", hm.quizHandler.UpdateQuiz)
			quizzes.PUT("/:id/questions/:index", hm.quizHandler.UpdateQuestion)
			quizzes.DELETE("/:id", hm.quizHandler.DeleteQuiz)
			quizzes.POST("/:id/share", hm.quizHandler.ShareQuiz)
		}

		// Question bank routes
		v1.GET("/question-bank", hm.quizHandler.GetQuestionBank)
		v1.POST("/question-bank", hm.quizHandler.AddToQuestionBank)

		// Class routes - creation and deletion are teacher only
		classes := v1.Group("/classes")
		{
			classes.POST("", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher), hm.classHandler.CreateClass)
			classes.DELETE("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher), hm.classHandler.DeleteClass)
			classes.GET("", hm.classHandler.ListClasses)
			classes.POST("/join", hm.classHandler.JoinClass)
			classes.POST("/:id/leave", hm.classHandler.LeaveClass)
		}

		// Assignment routes
		assignments := v1.Group("/assignments")
		{
			assignments.POST("", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher), hm.classHandler.CreateAssignment)
			assignments.GET("", hm.classHandler.ListAssignments)
			assignments.GET("/:id/submissions", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher), hm.classHandler.ListSubmissions)
			assignments.GET("/:id/submissions/export", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher), hm.classHandler.ExportSubmissions)
		}

		// Session routes
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", hm.sessionHandler.StartSession)
			sessions.GET("/current", hm.sessionHandler.GetSession)
			sessions.POST("/current/select", hm.sessionHandler.SelectAnswer)
			sessions.POST("/current/check", hm.sessionHandler.CheckAnswer)
			sessions.POST("/current/next", hm.sessionHandler.NextQuestion)
			sessions.POST("/current/abandon", hm.sessionHandler.AbandonSession)
			sessions.GET("/checkpoint", hm.sessionHandler.GetCheckpoint)
			sessions.POST("/resume", hm.sessionHandler.ResumeSession)
		}

		// Account routes
		account := v1.Group("/account")
		{
			account.GET("", hm.accountHandler.GetAccount)
			account.PUT("", hm.accountHandler.UpdateAccount)
			account.POST("/upgrade", hm.accountHandler.UpgradePlan)
			account.POST("/upgrade/confirm", hm.accountHandler.ConfirmUpgrade)
			account.GET("/flags/:name", hm.accountHandler.GetFlag)
			account.PUT("/flags/:name", hm.accountHandler.SetFlag)
		}

		// Notification routes
		notifications := v1.Group("/notifications")
		{
			notifications.GET("", hm.accountHandler.ListNotifications)
			notifications.POST("/:id/read", hm.accountHandler.MarkNotificationRead)
		}

		// Progress routes
		progressRoutes := v1.Group("/progress")
		{
			progressRoutes.GET("", hm.progressHandler.GetProgress)
			progressRoutes.GET("/weak-topics", hm.progressHandler.GetWeakTopics)
			progressRoutes.GET("/review", hm.progressHandler.GetReviewStatus)
			progressRoutes.GET("/achievements", hm.progressHandler.GetAchievements)
		}

		// Realtime state stream
		v1.GET("/ws", hm.wsHandler.Stream)
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "core-service",
		})
	})
}
