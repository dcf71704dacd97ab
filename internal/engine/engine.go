package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"plcgate/internal/audit"
	"plcgate/internal/config"
	"plcgate/internal/domain"
	"plcgate/internal/engine/auth"
	"plcgate/internal/gate"
	"plcgate/internal/metrics"
	"plcgate/internal/repo"
)

// Engine applies every state change together with its audit row in one
// transaction. It is safe to share between goroutines.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Gate    gate.Engine
	Metrics *metrics.Metrics
	Now     func() time.Time

	cfg config.Config
}

// New copies cfg; later changes to the caller's value do not reach the engine.
func New(db *sql.DB, cfg *config.Config, m *metrics.Metrics) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Gate:    gate.New(gate.Config{MinEvidenceLinks: cfg.Gates.MinEvidenceLinks}),
		Metrics: m,
		Now:     time.Now,
		cfg:     cfg.Clone(),
	}
}

// Config returns a copy of the configuration the engine was built with.
func (e Engine) Config() config.Config {
	return e.cfg.Clone()
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) auditLog() audit.Writer {
	return audit.Writer{Now: e.now}
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// inTx runs fn in a transaction and commits when it returns nil.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func actorID(u *domain.User) *int64 {
	if u == nil || u.ID == 0 {
		return nil
	}
	id := u.ID
	return &id
}

// UserCreateOptions are parameters for creating a user.
type UserCreateOptions struct {
	Name     string
	Email    string
	Role     domain.Role
	Password string
}

// CreateUser registers a user. A nil actor is the local operator (CLI or
// seed); otherwise the actor must be an admin.
func (e Engine) CreateUser(ctx context.Context, actor *domain.User, opts UserCreateOptions) (domain.User, error) {
	if actor != nil {
		if err := auth.RequireRole(*actor, domain.RoleAdmin); err != nil {
			return domain.User{}, err
		}
	}
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, errors.New("valid email is required")
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.User{}, errors.New("name is required")
	}
	role, err := domain.ParseRole(string(opts.Role))
	if err != nil {
		return domain.User{}, err
	}
	hash, err := auth.HashPassword(opts.Password)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{Name: strings.TrimSpace(opts.Name), Email: email, Role: role, PasswordHash: hash, CreatedAt: e.timestamp()}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		id, err := e.Repo.InsertUser(ctx, tx, u)
		if err != nil {
			if repo.IsUniqueViolation(err) {
				return fmt.Errorf("user %s: %w", email, domain.ErrConflict)
			}
			return fmt.Errorf("insert user: %w", err)
		}
		u.ID = id
		_, err = e.auditLog().Append(ctx, tx, actorID(actor), audit.UserCreated, "user", fmt.Sprint(id), audit.Payload{"email": email, "role": role})
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Authenticate checks an email/password pair.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, auth.ErrUnauthenticated
		}
		return domain.User{}, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return domain.User{}, auth.ErrUnauthenticated
	}
	return u, nil
}

// Tokens returns the token service configured for this engine.
func (e Engine) Tokens() auth.Tokens {
	return auth.Tokens{
		Secret: e.cfg.Auth.SecretKey,
		TTL:    time.Duration(e.cfg.Auth.TokenTTLMinutes) * time.Minute,
		Now:    e.now,
	}
}

// CreateAPIKey mints a key for user. The plaintext secret is only returned here.
func (e Engine) CreateAPIKey(ctx context.Context, actor *domain.User, userID int64, name string) (domain.APIKey, string, error) {
	if actor != nil && actor.ID != userID {
		if err := auth.RequireRole(*actor, domain.RoleAdmin); err != nil {
			return domain.APIKey{}, "", err
		}
	}
	secret := "plc_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.timestamp(),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetUser(ctx, tx, userID); err != nil {
			return fmt.Errorf("user %d: %w", userID, err)
		}
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		_, err := e.auditLog().Append(ctx, tx, actorID(actor), audit.APIKeyCreated, "api_key", key.ID, audit.Payload{"user_id": userID, "name": key.Name})
		return err
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

// DeleteAPIKey revokes a key. Non-admin actors may only revoke their own
// keys; a nil actor is the local operator.
func (e Engine) DeleteAPIKey(ctx context.Context, actor *domain.User, id string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		key, err := e.Repo.GetAPIKey(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("api key %s: %w", id, err)
		}
		if actor != nil && actor.ID != key.UserID {
			if err := auth.RequireRole(*actor, domain.RoleAdmin); err != nil {
				return err
			}
		}
		if err := e.Repo.DeleteAPIKey(ctx, tx, key.ID); err != nil {
			return err
		}
		_, err = e.auditLog().Append(ctx, tx, actorID(actor), audit.APIKeyDeleted, "api_key", key.ID, audit.Payload{"user_id": key.UserID, "name": key.Name})
		return err
	})
}

// CreateProject registers a project; the key is stored uppercased.
func (e Engine) CreateProject(ctx context.Context, actor *domain.User, name, key string) (domain.Project, error) {
	if actor != nil {
		if err := auth.RequireMutate(*actor); err != nil {
			return domain.Project{}, err
		}
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	if len(key) < 2 || len(key) > 10 || strings.ContainsAny(key, " -") {
		return domain.Project{}, fmt.Errorf("project key %q must be 2-10 characters without spaces or hyphens", key)
	}
	if strings.TrimSpace(name) == "" {
		return domain.Project{}, errors.New("name is required")
	}
	p := domain.Project{Name: strings.TrimSpace(name), Key: key, CreatedAt: e.timestamp()}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		id, err := e.Repo.InsertProject(ctx, tx, p)
		if err != nil {
			if repo.IsUniqueViolation(err) {
				return fmt.Errorf("project %s: %w", key, domain.ErrConflict)
			}
			return fmt.Errorf("insert project: %w", err)
		}
		p.ID = id
		_, err = e.auditLog().Append(ctx, tx, actorID(actor), audit.ProjectCreated, "project", fmt.Sprint(id), audit.Payload{"key": key, "name": p.Name})
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// RecordToolCall writes the copilot trace row for one executed tool against
// the object it touched.
func (e Engine) RecordToolCall(ctx context.Context, actor domain.User, objectType, objectID string, payload audit.Payload) error {
	_, err := e.auditLog().Append(ctx, e.DB, actorID(&actor), audit.CopilotToolCall, objectType, objectID, payload)
	return err
}
