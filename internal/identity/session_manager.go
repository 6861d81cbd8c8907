package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"

	"github.com/quizforge/core-service/internal/aggregate"
	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/realtime"
	"github.com/quizforge/core-service/internal/store"
)

var (
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrProfileNotFound = errors.New("account profile not found")
)

// Config holds the Casdoor connection settings.
type Config struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Certificate  string
	Organization string
	Application  string
}

// SessionCallback observes session starts and ends.
type SessionCallback func(userID string, active bool)

// SessionManager wraps the identity provider's session lifecycle. Session
// start loads the account profile and hydrates the user's aggregate;
// session end flushes it and tears down realtime subscriptions. The core
// only relies on a stable user id plus a bearer token.
type SessionManager struct {
	client     *casdoorsdk.Client
	docs       store.DocumentStore
	aggregates *aggregate.Manager
	realtime   *realtime.Registry
	logger     *slog.Logger

	mu        sync.Mutex
	callbacks []SessionCallback
}

func NewSessionManager(cfg Config, docs store.DocumentStore, aggregates *aggregate.Manager, rt *realtime.Registry, logger *slog.Logger) *SessionManager {
	client := casdoorsdk.NewClient(
		cfg.Endpoint,
		cfg.ClientID,
		cfg.ClientSecret,
		cfg.Certificate,
		cfg.Organization,
		cfg.Application,
	)
	return &SessionManager{
		client:     client,
		docs:       docs,
		aggregates: aggregates,
		realtime:   rt,
		logger:     logger,
	}
}

// OnSessionChange registers a callback invoked on session start and end.
func (m *SessionManager) OnSessionChange(cb SessionCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

func (m *SessionManager) fire(userID string, active bool) {
	m.mu.Lock()
	callbacks := append([]SessionCallback(nil), m.callbacks...)
	m.mu.Unlock()
	for _, cb := range callbacks {
		cb(userID, active)
	}
}

// ParseToken validates a bearer token and returns the provider's claims.
func (m *SessionManager) ParseToken(token string) (*casdoorsdk.Claims, error) {
	claims, err := m.client.ParseJwtToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// StartSession establishes in-memory state for an authenticated user:
// profile load (creating a default profile on first login), aggregate
// hydration, realtime attach. Only a failed hydration blocks the session.
func (m *SessionManager) StartSession(ctx context.Context, claims *casdoorsdk.Claims) (*models.UserAccount, *aggregate.Store, error) {
	account, err := m.loadOrCreateProfile(ctx, claims)
	if err != nil {
		return nil, nil, err
	}

	agg, err := m.aggregates.GetOrCreate(ctx, account.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("hydrate session state: %w", err)
	}

	m.realtime.Attach(agg)
	m.fire(account.ID, true)
	m.logger.Info("Session started", "user_id", account.ID, "role", account.Role)
	return account, agg, nil
}

// Session returns the already established state for a user without
// touching the identity provider. Used on the request hot path so repeat
// requests skip the full start sequence.
func (m *SessionManager) Session(ctx context.Context, userID string) (*models.UserAccount, *aggregate.Store, bool) {
	agg, ok := m.aggregates.Get(userID)
	if !ok {
		return nil, nil, false
	}
	account, err := m.GetProfile(ctx, userID)
	if err != nil {
		return nil, nil, false
	}
	return account, agg, true
}

// EndSession flushes and clears the user's in-memory state.
func (m *SessionManager) EndSession(ctx context.Context, userID string) {
	m.realtime.Detach(userID)
	m.aggregates.Remove(ctx, userID)
	m.fire(userID, false)
	m.logger.Info("Session ended", "user_id", userID)
}

// SignUp registers the account with the identity provider and stores the
// profile. Role is chosen once at signup.
func (m *SessionManager) SignUp(ctx context.Context, name, email, password string, role models.UserRole) (*models.UserAccount, error) {
	if !models.ValidRole(role) {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	casdoorUser := casdoorsdk.User{
		Name:        email,
		DisplayName: name,
		Email:       email,
		Password:    password,
	}
	if _, err := m.client.AddUser(&casdoorUser); err != nil {
		return nil, fmt.Errorf("register with identity provider: %w", err)
	}

	account := &models.UserAccount{
		ID:        email,
		Name:      name,
		Email:     email,
		Role:      role,
		Plan:      models.PlanFree,
		CreatedAt: time.Now(),
	}
	if err := m.saveProfile(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// GetProfile loads an account profile from the document store.
func (m *SessionManager) GetProfile(ctx context.Context, userID string) (*models.UserAccount, error) {
	raw, err := m.docs.Get(ctx, store.ProfileKey(userID))
	if err != nil {
		if errors.Is(err, store.ErrDocNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	var account models.UserAccount
	if err := json.Unmarshal([]byte(raw), &account); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return &account, nil
}

// UpdateName edits the mutable display name; id, email and role stay fixed.
func (m *SessionManager) UpdateName(ctx context.Context, userID, name string) (*models.UserAccount, error) {
	account, err := m.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	account.Name = name
	if err := m.saveProfile(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// UpdatePlan stamps the billing plan; polled by the billing client after a
// checkout redirect.
func (m *SessionManager) UpdatePlan(ctx context.Context, userID string, plan models.PlanID) error {
	account, err := m.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	account.Plan = plan
	return m.saveProfile(ctx, account)
}

func (m *SessionManager) saveProfile(ctx context.Context, account *models.UserAccount) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := m.docs.Set(ctx, store.ProfileKey(account.ID), string(data), 0); err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}
	return nil
}

func (m *SessionManager) loadOrCreateProfile(ctx context.Context, claims *casdoorsdk.Claims) (*models.UserAccount, error) {
	userID := claims.User.Id
	if userID == "" {
		userID = claims.User.Email
	}

	account, err := m.GetProfile(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}

	account = &models.UserAccount{
		ID:        userID,
		Name:      claims.User.DisplayName,
		Email:     claims.User.Email,
		Role:      roleFromClaims(claims),
		Plan:      models.PlanFree,
		CreatedAt: time.Now(),
	}
	if err := m.saveProfile(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func roleFromClaims(claims *casdoorsdk.Claims) models.UserRole {
	for _, role := range claims.User.Roles {
		switch strings.ToLower(role.Name) {
		case "teacher", "instructor":
			return models.RoleTeacher
		case "creator":
			return models.RoleCreator
		case "student":
			return models.RoleStudent
		}
	}
	return models.RoleStudent
}
