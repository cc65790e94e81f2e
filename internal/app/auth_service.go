package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bizfin-insight/internal/model"
	"bizfin-insight/internal/pkg/jwtutil"
	"bizfin-insight/internal/role"
)

type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByID(ctx context.Context, id uint) (*model.User, error)
}

type AuthService struct {
	users         UserStore
	jwtSecret     string
	jwtExpiration time.Duration
}

type RegisterInput struct {
	Username   string
	Password   string
	Department string
}

type LoginInput struct {
	Username string
	Password string
}

type AuthResult struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// DemoUser is an account created at startup for local use.
type DemoUser struct {
	Username   string
	Password   string
	Role       role.Role
	Department string
}

func DemoUsers(password string) []DemoUser {
	return []DemoUser{
		{Username: "junior_user", Password: password, Role: role.JuniorStaff, Department: "Finance"},
		{Username: "intermediate_user", Password: password, Role: role.IntermediateStaff, Department: "Sales"},
		{Username: "department_head", Password: password, Role: role.DepartmentalHead, Department: "Executive"},
	}
}

func NewAuthService(users UserStore, jwtSecret string, jwtExpiration time.Duration) *AuthService {
	return &AuthService{
		users:         users,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

// Register always creates a Junior Staff account; roles are assigned by
// operators, never by the caller.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	password := strings.TrimSpace(input.Password)
	if username == "" || len(password) < 8 {
		return nil, ErrInvalidInput
	}

	existing, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameExists
	}

	user, err := s.createUser(ctx, username, password, role.JuniorStaff, strings.TrimSpace(input.Department))
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	password := strings.TrimSpace(input.Password)
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}
	return s.issue(user)
}

func (s *AuthService) GetUserByID(ctx context.Context, id uint) (*model.User, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	return s.users.GetByID(ctx, id)
}

// SeedDemoUsers creates the missing demo accounts and returns how many were
// added.
func (s *AuthService) SeedDemoUsers(ctx context.Context, demo []DemoUser) (int, error) {
	created := 0
	for _, d := range demo {
		existing, err := s.users.GetByUsername(ctx, d.Username)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}
		if _, err := s.createUser(ctx, d.Username, d.Password, d.Role, d.Department); err != nil {
			return created, fmt.Errorf("seed %s failed: %w", d.Username, err)
		}
		created++
	}
	return created, nil
}

func (s *AuthService) createUser(ctx context.Context, username, password string, r role.Role, department string) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}
	user := &model.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         string(r),
		Department:   department,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, jwtutil.Identity{
		UserID:     user.ID,
		Username:   user.Username,
		Role:       user.Role,
		Department: user.Department,
	})
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}
