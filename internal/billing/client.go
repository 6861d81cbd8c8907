package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"

	"github.com/quizforge/core-service/internal/models"
)

// ProPlanPriceIDR is the one-time upgrade price.
const ProPlanPriceIDR = 99000

const (
	pollAttempts = 10
	pollInterval = 3 * time.Second
)

var ErrCheckoutFailed = errors.New("checkout could not be created")

// PlanStore is the slice of account management the billing flow needs.
type PlanStore interface {
	GetProfile(ctx context.Context, userID string) (*models.UserAccount, error)
	UpdatePlan(ctx context.Context, userID string, plan models.PlanID) error
}

type CheckoutSession struct {
	OrderID     string
	Token       string
	RedirectURL string
}

// Client drives plan upgrades through the Midtrans Snap API.
type Client struct {
	snap   snap.Client
	plans  PlanStore
	logger *slog.Logger
}

func NewClient(serverKey string, production bool, plans PlanStore, logger *slog.Logger) *Client {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	c := &Client{plans: plans, logger: logger}
	c.snap.New(serverKey, env)
	return c
}

const orderPrefix = "pro:"

// NewOrderID embeds the buyer in the order id so the provider's webhook
// can be routed back without extra storage. User ids never contain ':'.
func NewOrderID(userID string) string {
	return fmt.Sprintf("%s%s:%d", orderPrefix, userID, time.Now().Unix())
}

// UserIDFromOrder reverses NewOrderID.
func UserIDFromOrder(orderID string) (string, bool) {
	if !strings.HasPrefix(orderID, orderPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(orderID, orderPrefix)
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 {
		return "", false
	}
	return rest[:idx], true
}

// Checkout creates a Snap transaction for the pro upgrade and returns the
// hosted payment page URL.
func (c *Client) Checkout(ctx context.Context, account *models.UserAccount) (*CheckoutSession, error) {
	orderID := NewOrderID(account.ID)
	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderID,
			GrossAmt: ProPlanPriceIDR,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: account.Name,
			Email: account.Email,
		},
		Items: &[]midtrans.ItemDetails{{
			ID:    "plan-pro",
			Name:  "Pro plan upgrade",
			Price: ProPlanPriceIDR,
			Qty:   1,
		}},
	}

	resp, err := c.snap.CreateTransaction(req)
	if err != nil {
		c.logger.Error("Checkout creation failed", "user_id", account.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}

	c.logger.Info("Checkout created", "user_id", account.ID, "order_id", orderID)
	return &CheckoutSession{OrderID: orderID, Token: resp.Token, RedirectURL: resp.RedirectURL}, nil
}

// ConfirmUpgrade polls the account until the plan flips to pro, then gives
// up and applies it optimistically. The payment provider settles the truth
// through its notification webhook; the optimistic write only covers the
// window where the user returns before the webhook lands.
func (c *Client) ConfirmUpgrade(ctx context.Context, userID string) (models.PlanID, error) {
	for attempt := 0; attempt < pollAttempts; attempt++ {
		profile, err := c.plans.GetProfile(ctx, userID)
		if err == nil && profile.Plan == models.PlanPro {
			return models.PlanPro, nil
		}

		select {
		case <-ctx.Done():
			return models.PlanFree, ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	c.logger.Warn("Plan confirmation timed out, applying optimistically", "user_id", userID)
	if err := c.plans.UpdatePlan(ctx, userID, models.PlanPro); err != nil {
		return models.PlanFree, fmt.Errorf("apply plan upgrade: %w", err)
	}
	return models.PlanPro, nil
}

// HandleNotification applies a settlement callback from the provider.
func (c *Client) HandleNotification(ctx context.Context, userID, transactionStatus string) error {
	switch transactionStatus {
	case "capture", "settlement":
		if err := c.plans.UpdatePlan(ctx, userID, models.PlanPro); err != nil {
			return fmt.Errorf("settle plan upgrade: %w", err)
		}
		c.logger.Info("Plan upgraded", "user_id", userID)
	case "deny", "cancel", "expire":
		c.logger.Info("Payment not completed", "user_id", userID, "status", transactionStatus)
	}
	return nil
}
