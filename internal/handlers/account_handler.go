package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quizforge/core-service/internal/billing"
	"github.com/quizforge/core-service/internal/identity"
	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/store"
	"github.com/quizforge/core-service/internal/utils"
	"github.com/quizforge/core-service/internal/validator"
)

type AccountHandler struct {
	BaseHandler
	identity    *identity.SessionManager
	billing     *billing.Client
	collections *store.CollectionStore
	docs        store.DocumentStore
	validator   *validator.BusinessValidator
}

func NewAccountHandler(
	id *identity.SessionManager,
	billingClient *billing.Client,
	collections *store.CollectionStore,
	docs store.DocumentStore,
	v *validator.BusinessValidator,
	logger utils.Logger,
) *AccountHandler {
	return &AccountHandler{
		BaseHandler: NewBaseHandler(logger),
		identity:    id,
		billing:     billingClient,
		collections: collections,
		docs:        docs,
		validator:   v,
	}
}

// ===== AUTH =====

type signUpRequest struct {
	Name     string          `json:"name" binding:"required,max=100"`
	Email    string          `json:"email" binding:"required,email"`
	Password string          `json:"password" binding:"required,min=8"`
	Role     models.UserRole `json:"role" binding:"required"`
}

// SignUp registers a new account with the identity provider
// @Router /auth/signup [post]
func (h *AccountHandler) SignUp(c *gin.Context) {
	h.LogRequest(c, "Signing up")

	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Details: err.Error()})
		return
	}

	account, err := h.identity.SignUp(c.Request.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		h.LogError(c, err, "Signup failed")
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Could not create account", Details: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, account)
}

// Logout flushes and tears down the caller's session state
// @Router /auth/logout [post]
func (h *AccountHandler) Logout(c *gin.Context) {
	h.LogRequest(c, "Logging out")

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	h.identity.EndSession(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{"logged_out": true})
}

// ===== PROFILE =====

// GetAccount returns the caller's profile
// @Router /account [get]
func (h *AccountHandler) GetAccount(c *gin.Context) {
	account, err := GetAccountFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}
	c.JSON(http.StatusOK, account)
}

// UpdateAccount changes the display name
// @Router /account [put]
func (h *AccountHandler) UpdateAccount(c *gin.Context) {
	h.LogRequest(c, "Updating account")

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	var req validator.AccountUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Details: err.Error()})
		return
	}
	if errs := h.validator.Validate(&req); errs.HasErrors() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Validation failed", Details: errs.Error()})
		return
	}

	account, err := h.identity.UpdateName(c.Request.Context(), userID, req.Name)
	if err != nil {
		h.LogError(c, err, "Name update failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, account)
}

// ===== BILLING =====

// UpgradePlan creates a payment checkout for the pro plan
// @Router /account/upgrade [post]
func (h *AccountHandler) UpgradePlan(c *gin.Context) {
	h.LogRequest(c, "Creating plan upgrade checkout")

	account, err := GetAccountFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}
	if account.Plan == models.PlanPro {
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Already on the pro plan"})
		return
	}

	checkout, err := h.billing.Checkout(c.Request.Context(), account)
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Message: "Could not create checkout", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, checkout)
}

// ConfirmUpgrade waits for the plan flip after the user returns from the
// payment page
// @Router /account/upgrade/confirm [post]
func (h *AccountHandler) ConfirmUpgrade(c *gin.Context) {
	h.LogRequest(c, "Confirming plan upgrade")

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	plan, err := h.billing.ConfirmUpgrade(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, c.Request.Context().Err()) {
			return
		}
		h.LogError(c, err, "Upgrade confirmation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

type paymentNotification struct {
	OrderID           string `json:"order_id" binding:"required"`
	TransactionStatus string `json:"transaction_status" binding:"required"`
}

// PaymentNotification receives settlement callbacks from the payment
// provider. The user id is embedded in the order id at checkout time.
// @Router /billing/notifications [post]
func (h *AccountHandler) PaymentNotification(c *gin.Context) {
	var note paymentNotification
	if err := c.ShouldBindJSON(&note); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid notification", Details: err.Error()})
		return
	}

	userID, ok := billing.UserIDFromOrder(note.OrderID)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Unrecognized order id"})
		return
	}

	if err := h.billing.HandleNotification(c.Request.Context(), userID, note.TransactionStatus); err != nil {
		h.LogError(c, err, "Payment notification failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// ===== NOTIFICATIONS =====

// ListNotifications returns the caller's recent notifications
// @Router /notifications [get]
func (h *AccountHandler) ListNotifications(c *gin.Context) {
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		limit = 50
	}

	notifications, err := h.collections.ListNotifications(c.Request.Context(), userID, limit)
	if err != nil {
		h.LogError(c, err, "Notification listing failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// MarkNotificationRead marks one notification as read
// @Router /notifications/{id}/read [post]
func (h *AccountHandler) MarkNotificationRead(c *gin.Context) {
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	if err := h.collections.MarkNotificationRead(c.Request.Context(), userID, c.Param("id")); err != nil {
		if store.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, ErrorResponse{Message: "Notification not found"})
			return
		}
		h.LogError(c, err, "Notification update failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}

// ===== ONBOARDING FLAGS =====

// GetFlag reports whether the caller has completed the named one-time flow
// @Router /account/flags/{name} [get]
func (h *AccountHandler) GetFlag(c *gin.Context) {
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	_, err = h.docs.Get(c.Request.Context(), store.FlagKey(userID, c.Param("name")))
	if err != nil {
		if errors.Is(err, store.ErrDocNotFound) {
			c.JSON(http.StatusOK, gin.H{"set": false})
			return
		}
		h.LogError(c, err, "Flag read failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"set": true})
}

// SetFlag marks the named one-time flow as completed
// @Router /account/flags/{name} [put]
func (h *AccountHandler) SetFlag(c *gin.Context) {
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	if err := h.docs.Set(c.Request.Context(), store.FlagKey(userID, c.Param("name")), "1", 0); err != nil {
		h.LogError(c, err, "Flag write failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"set": true})
}
