package app

import (
	"fmt"
	"strings"
	"time"

	"shelfshare/internal/usertoken"
	"shelfshare/internal/util"
	"shelfshare/pkg/auth"
	"shelfshare/pkg/domain"
	"shelfshare/pkg/store"
)

// App is the account service: registration, login, profile reads, and
// security-question password recovery.
type App struct {
	store  store.Store
	tokens *usertoken.Service
}

func New(st store.Store, tokens *usertoken.Service) *App {
	return &App{store: st, tokens: tokens}
}

// RegisterInput carries the sign-up payload. Security questions map
// question text to the expected answer.
type RegisterInput struct {
	Name              string            `json:"name"`
	Username          string            `json:"username"`
	Email             string            `json:"email"`
	Password          string            `json:"password"`
	Pincode           string            `json:"pincode"`
	Area              string            `json:"area"`
	City              string            `json:"city"`
	State             string            `json:"state"`
	Country           string            `json:"country"`
	SecurityQuestions map[string]string `json:"securityQuestionMap"`
}

// Register creates an account and issues its first token.
func (a *App) Register(in RegisterInput) (domain.User, string, error) {
	in.Username = strings.TrimSpace(strings.ToLower(in.Username))
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	in.Name = strings.TrimSpace(in.Name)

	if in.Username == "" {
		return domain.User{}, "", ErrUsernameRequired
	}
	if in.Name == "" {
		return domain.User{}, "", ErrNameRequired
	}
	if in.Email == "" {
		return domain.User{}, "", ErrEmailRequired
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return domain.User{}, "", domain.Validationf("%s", err)
	}
	if len(in.SecurityQuestions) == 0 {
		return domain.User{}, "", ErrSecurityQARequired
	}

	taken, err := a.store.HasUsername(in.Username)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check username: %w", err)
	}
	if taken {
		return domain.User{}, "", ErrUsernameTaken
	}

	passwordHash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	answers := make(map[string]string, len(in.SecurityQuestions))
	for question, answer := range in.SecurityQuestions {
		answers[strings.TrimSpace(question)] = normalizeAnswer(answer)
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:                util.NewID(),
		Name:              in.Name,
		Username:          in.Username,
		Email:             in.Email,
		PasswordHash:      passwordHash,
		Pincode:           strings.TrimSpace(in.Pincode),
		Area:              strings.TrimSpace(in.Area),
		City:              strings.TrimSpace(in.City),
		State:             strings.TrimSpace(in.State),
		Country:           strings.TrimSpace(in.Country),
		SecurityQuestions: answers,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := a.store.CreateUser(user); err != nil {
		if strings.Contains(err.Error(), "duplicate") || strings.Contains(err.Error(), "exists") {
			return domain.User{}, "", ErrUsernameTaken
		}
		return domain.User{}, "", fmt.Errorf("create user: %w", err)
	}
	return a.issueToken(user)
}

// Login validates credentials and issues a token.
func (a *App) Login(username, password string) (domain.User, string, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	user, ok, err := a.store.GetUserByUsername(username)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	return a.issueToken(user)
}

// ResetPassword recovers an account by security answers. Every submitted
// answer must match a stored question, and at least one is required.
func (a *App) ResetPassword(username string, answers map[string]string, newPassword string) error {
	username = strings.TrimSpace(strings.ToLower(username))
	user, ok, err := a.store.GetUserByUsername(username)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	if len(answers) == 0 {
		return ErrSecurityQAMismatch
	}
	for question, answer := range answers {
		expected, ok := user.SecurityQuestions[strings.TrimSpace(question)]
		if !ok || expected != normalizeAnswer(answer) {
			return ErrSecurityQAMismatch
		}
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return domain.Validationf("%s", err)
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return a.store.UpdatePasswordHash(user.ID, hash)
}

// UserFromToken resolves a user from a bearer token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	userID, err := a.tokens.VerifySubject(token)
	if err != nil {
		return domain.User{}, false
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil || !ok {
		return domain.User{}, false
	}
	return user, true
}

func (a *App) issueToken(user domain.User) (domain.User, string, error) {
	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

func normalizeAnswer(answer string) string {
	return strings.TrimSpace(strings.ToLower(answer))
}
