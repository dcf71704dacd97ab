package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"plcgate/internal/domain"
)

// ErrUnauthenticated is returned when credentials are missing or invalid.
var ErrUnauthenticated = errors.New("invalid credentials")

// ForbiddenError indicates the acting user's role does not allow the operation.
type ForbiddenError struct {
	Role     domain.Role
	Required []domain.Role
}

func (e ForbiddenError) Error() string {
	want := make([]string, len(e.Required))
	for i, r := range e.Required {
		want[i] = string(r)
	}
	return fmt.Sprintf("role %s not permitted; requires %s", e.Role, strings.Join(want, " or "))
}

// RequireRole returns ForbiddenError unless u holds one of roles.
func RequireRole(u domain.User, roles ...domain.Role) error {
	for _, r := range roles {
		if u.Role == r {
			return nil
		}
	}
	return ForbiddenError{Role: u.Role, Required: roles}
}

// RequireMutate guards every write: admin and pm only.
func RequireMutate(u domain.User) error {
	return RequireRole(u, domain.RoleAdmin, domain.RolePM)
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password required")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword compares in constant time; an empty hash never matches.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Tokens issues and verifies HS256 access tokens whose subject is the user id.
type Tokens struct {
	Secret string
	TTL    time.Duration
	Now    func() time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Role domain.Role `json:"role,omitempty"`
}

func (t Tokens) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t Tokens) Issue(u domain.User) (string, time.Time, error) {
	if strings.TrimSpace(t.Secret) == "" {
		return "", time.Time{}, errors.New("token secret not configured")
	}
	now := t.now().UTC()
	exp := now.Add(t.TTL)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: u.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(t.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse validates token and returns the user id it was issued for. The role
// claim is informational; callers reload the user.
func (t Tokens) Parse(token string) (int64, error) {
	if strings.TrimSpace(t.Secret) == "" {
		return 0, errors.New("token secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return []byte(t.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return 0, ErrUnauthenticated
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrUnauthenticated
	}
	return id, nil
}
