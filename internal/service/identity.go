package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/Skotchmaster/marketplace/internal/authz"
	"github.com/Skotchmaster/marketplace/internal/events"
	"github.com/Skotchmaster/marketplace/internal/hash"
	"github.com/Skotchmaster/marketplace/internal/logging"
	"github.com/Skotchmaster/marketplace/internal/metrics"
	"github.com/Skotchmaster/marketplace/internal/models"
	"github.com/Skotchmaster/marketplace/internal/repo"
	"github.com/Skotchmaster/marketplace/internal/search"
	"github.com/Skotchmaster/marketplace/internal/tokens"
)

type IdentityService struct {
	Repo    *repo.GormRepo
	Tokens  *tokens.Issuer
	Events  events.Publisher
	Metrics *metrics.Metrics
	Index   search.Index
	// HashCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	HashCost int
}

// Session is the result of a successful login or refresh.
type Session struct {
	User   *models.User
	Tokens *tokens.Pair
}

func (s *IdentityService) hashPassword(pw string) (string, error) {
	cost := s.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return hash.HashPasswordCost(pw, cost)
}

func userKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Register creates an account. Administrators start approved, everyone else
// waits for approval. An empty role means customer.
func (s *IdentityService) Register(ctx context.Context, username, password string, role models.Role) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "identity.register")

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		l.Warn("register_failed", "status", 400, "reason", "empty username or password")
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	if role == "" {
		role = models.RoleCustomer
	}
	if !role.Valid() {
		l.Warn("register_failed", "status", 400, "reason", "invalid role", "role", role)
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	if _, err := s.Repo.GetUserByUsername(ctx, username); err == nil {
		l.Warn("register_failed", "status", 409, "reason", "username taken")
		return nil, fmt.Errorf("%w: %s", ErrDuplicateUsername, username)
	} else if !isNotFound(err) {
		l.Error("register_failed", "status", 500, "error", err)
		return nil, err
	}

	pwHash, err := s.hashPassword(password)
	if err != nil {
		l.Error("register_failed", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	user := &models.User{
		Username:     username,
		PasswordHash: pwHash,
		Role:         role,
		Approved:     role == models.RoleAdministrator,
	}
	if err := s.Repo.CreateUser(ctx, user); err != nil {
		err = translate(err, username)
		if errors.Is(err, ErrDuplicateUsername) {
			l.Warn("register_failed", "status", 409, "reason", "username taken")
		} else {
			l.Error("register_failed", "status", 500, "error", err)
		}
		return nil, err
	}

	s.Metrics.Registered(string(role))
	publish(ctx, s.Events, events.TopicUsers, userKey(user.ID), events.Event{
		Type:    "user_registered",
		ActorID: user.ID,
		Data:    map[string]any{"username": user.Username, "role": user.Role},
	})
	l.Info("register_success", "user_id", user.ID, "role", role)
	return user, nil
}

// Authenticate verifies credentials. A non-empty requiredRole restricts the
// login to accounts of that role; a mismatch looks like a bad password.
func (s *IdentityService) Authenticate(ctx context.Context, username, password string, requiredRole models.Role) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "identity.authenticate", "username", username)

	user, err := s.Repo.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		err = translate(err, "user")
		if errors.Is(err, ErrNotFound) {
			l.Warn("login_failed", "status", 401, "reason", "unknown user")
		} else {
			l.Error("login_failed", "status", 500, "error", err)
		}
		return nil, err
	}
	if !hash.CheckPassword(user.PasswordHash, password) {
		l.Warn("login_failed", "status", 401, "reason", "bad password")
		return nil, fmt.Errorf("%w: invalid username or password", ErrBadCredential)
	}
	if requiredRole != "" && user.Role != requiredRole {
		l.Warn("login_failed", "status", 401, "reason", "role mismatch", "role", user.Role)
		return nil, fmt.Errorf("%w: invalid username or password", ErrBadCredential)
	}
	if !user.Approved && user.Role != models.RoleAdministrator {
		l.Warn("login_failed", "status", 403, "reason", "pending approval")
		return nil, fmt.Errorf("%w: account is awaiting approval", ErrPendingApproval)
	}
	return user, nil
}

func (s *IdentityService) issue(ctx context.Context, user *models.User) (*tokens.Pair, *models.RefreshToken, error) {
	pair, err := s.Tokens.Issue(user.ID, string(user.Role))
	if err != nil {
		return nil, nil, err
	}
	row := &models.RefreshToken{
		JTI:       pair.RefreshJTI,
		TokenHash: tokens.Sha256Hex(pair.RefreshToken),
		UserID:    user.ID,
		ExpiresAt: pair.RefreshExp.Unix(),
	}
	return pair, row, nil
}

func (s *IdentityService) Login(ctx context.Context, username, password string, requiredRole models.Role) (*Session, error) {
	l := logging.FromContext(ctx).With("svc", "identity.login", "username", username)

	user, err := s.Authenticate(ctx, username, password, requiredRole)
	if err != nil {
		s.Metrics.Login(KindOf(err))
		return nil, err
	}

	pair, row, err := s.issue(ctx, user)
	if err != nil {
		l.Error("login_failed", "status", 500, "reason", "cannot sign tokens", "error", err)
		return nil, err
	}
	if err := s.Repo.SaveRefreshToken(ctx, row); err != nil {
		l.Error("login_failed", "status", 500, "reason", "cannot store refresh token", "error", err)
		return nil, err
	}

	s.Metrics.Login("ok")
	l.Info("login_success", "user_id", user.ID, "role", user.Role)
	return &Session{User: user, Tokens: pair}, nil
}

// Refresh rotates a refresh token. The presented token is revoked and a new
// pair is issued with the user's current role.
func (s *IdentityService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	l := logging.FromContext(ctx).With("svc", "identity.refresh")

	claims, err := s.Tokens.ParseRefresh(refreshToken)
	if err != nil {
		l.Warn("refresh_failed", "status", 401, "reason", "invalid token", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}
	userID, err := tokens.SubjectID(claims.RegisteredClaims)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}

	user, err := s.Repo.GetUserByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: user no longer exists", ErrInvalidRefreshToken)
		}
		return nil, err
	}
	if !user.Approved && user.Role != models.RoleAdministrator {
		return nil, fmt.Errorf("%w: account is awaiting approval", ErrPendingApproval)
	}

	pair, row, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.RotateRefreshToken(ctx, claims.ID, tokens.Sha256Hex(refreshToken), row); err != nil {
		err = translate(err, "refresh token")
		l.Warn("refresh_failed", "status", 401, "user_id", user.ID, "error", err)
		return nil, err
	}

	l.Info("refresh_success", "user_id", user.ID)
	return &Session{User: user, Tokens: pair}, nil
}

// Logout revokes the refresh token, if any.
func (s *IdentityService) Logout(ctx context.Context, actor authz.Actor, refreshToken string) error {
	if err := gate(actor, authz.ActionLogout, nil); err != nil {
		return err
	}
	if refreshToken == "" {
		return nil
	}
	if err := s.Repo.RevokeRefreshToken(ctx, tokens.Sha256Hex(refreshToken)); err != nil {
		logging.FromContext(ctx).Error("logout_failed", "status", 500, "user_id", actor.ID, "error", err)
		return err
	}
	return nil
}

// ResolveActor loads the current role and approval state of a user.
func (s *IdentityService) ResolveActor(ctx context.Context, userID uint) (authz.Actor, error) {
	user, err := s.Repo.GetUserByID(ctx, userID)
	if err != nil {
		return authz.Actor{}, translate(err, "user")
	}
	return authz.FromUser(user), nil
}

func (s *IdentityService) ResolveActorByUsername(ctx context.Context, username string) (authz.Actor, error) {
	user, err := s.Repo.GetUserByUsername(ctx, username)
	if err != nil {
		return authz.Actor{}, translate(err, "user "+username)
	}
	return authz.FromUser(user), nil
}

func (s *IdentityService) ListUsers(ctx context.Context, actor authz.Actor, role models.Role) ([]models.User, error) {
	if err := gate(actor, authz.ActionListUsers, nil); err != nil {
		return nil, err
	}
	if role != "" && !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return s.Repo.ListUsers(ctx, role)
}

// SetApproved is idempotent.
func (s *IdentityService) SetApproved(ctx context.Context, actor authz.Actor, targetID uint, value bool) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "identity.set_approved", "target_id", targetID)

	if err := gate(actor, authz.ActionApproveUser, nil); err != nil {
		l.Warn("set_approved_failed", "reason", KindOf(err))
		return nil, err
	}
	user, err := s.Repo.SetApproved(ctx, targetID, value)
	if err != nil {
		return nil, translate(err, "user")
	}

	typ := "user_approved"
	if !value {
		typ = "user_unapproved"
	}
	publish(ctx, s.Events, events.TopicUsers, userKey(targetID), events.Event{Type: typ, ActorID: actor.ID})
	l.Info("set_approved_success", "approved", value)
	return user, nil
}

// DeleteUser removes the user and everything it owns in one transaction.
func (s *IdentityService) DeleteUser(ctx context.Context, actor authz.Actor, targetID uint) error {
	l := logging.FromContext(ctx).With("svc", "identity.delete_user", "target_id", targetID)

	if err := gate(actor, authz.ActionDeleteUser, nil); err != nil {
		l.Warn("delete_user_failed", "reason", KindOf(err))
		return err
	}
	if targetID == actor.ID {
		return fmt.Errorf("%w: administrators cannot delete their own account", ErrInvalidInput)
	}

	productIDs, err := s.Repo.DeleteUserCascade(ctx, targetID)
	if err != nil {
		return translate(err, "user")
	}

	if s.Index != nil {
		for _, id := range productIDs {
			if err := s.Index.Delete(ctx, id); err != nil {
				l.Warn("search_unindex_failed", "product_id", id, "error", err)
			}
		}
	}
	publish(ctx, s.Events, events.TopicUsers, userKey(targetID), events.Event{
		Type:    "user_deleted",
		ActorID: actor.ID,
		Data:    map[string]any{"products_deleted": len(productIDs)},
	})
	l.Info("delete_user_success", "products_deleted", len(productIDs))
	return nil
}

// BootstrapAdmin creates the reserved administrator account unless it already
// exists. It is not reachable over HTTP.
func (s *IdentityService) BootstrapAdmin(ctx context.Context, username, password string) (bool, error) {
	l := logging.FromContext(ctx).With("svc", "identity.bootstrap_admin", "username", username)

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return false, fmt.Errorf("%w: admin username and password are required", ErrInvalidInput)
	}

	pwHash, err := s.hashPassword(password)
	if err != nil {
		return false, err
	}
	user := &models.User{
		Username:     username,
		PasswordHash: pwHash,
		Role:         models.RoleAdministrator,
		Approved:     true,
	}
	created, err := s.Repo.CreateUserIfNotExists(ctx, user)
	if err != nil {
		l.Error("bootstrap_admin_failed", "error", err)
		return false, err
	}
	if !created {
		if user.Role != models.RoleAdministrator {
			return false, fmt.Errorf("%w: %s belongs to a %s", ErrDuplicateUsername, username, user.Role)
		}
		l.Info("bootstrap_admin_exists", "user_id", user.ID)
		return false, nil
	}

	publish(ctx, s.Events, events.TopicUsers, userKey(user.ID), events.Event{
		Type:    "user_registered",
		ActorID: user.ID,
		Data:    map[string]any{"username": user.Username, "role": user.Role},
	})
	l.Info("bootstrap_admin_created", "user_id", user.ID)
	return true, nil
}
