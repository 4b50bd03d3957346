package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shiftsight/core/internal/models"
	"github.com/shiftsight/core/internal/pkg/jwt"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	sessionTTL     = 24 * time.Hour
	apiTokenPrefix = "txo"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already taken")
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(db *gorm.DB, log *zap.Logger) *Service {
	return &Service{db: db, log: log}
}

// Login verifies credentials and issues a session token. The failure mode is
// identical for an unknown user and a wrong password.
func (s *Service) Login(ctx context.Context, username, password, ip string) (string, *models.UserModel, error) {
	var user models.UserModel
	err := s.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("load user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := jwt.Sign(user.ID, user.Role, sessionTTL)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"last_login_time": now,
		"last_login_ip":   ip,
	}
	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		s.log.Warn("could not record login metadata",
			zap.String("user", user.ID),
			zap.Error(err))
	}
	return token, &user, nil
}

// CreateUser registers an account with a bcrypt-hashed password.
func (s *Service) CreateUser(ctx context.Context, username, name, password, role string) (*models.UserModel, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.UserModel{
		Username: username,
		Name:     name,
		Password: string(hashed),
		Role:     role,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// CreateAPIToken mints a long-lived token for programmatic submissions.
func (s *Service) CreateAPIToken(ctx context.Context, userID, name string, expiredAt *time.Time) (*models.APIToken, error) {
	token := &models.APIToken{
		UserID:    userID,
		Token:     apiTokenPrefix + uuid.NewString(),
		Name:      name,
		ExpiredAt: expiredAt,
	}
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return nil, fmt.Errorf("create api token: %w", err)
	}
	return token, nil
}

func (s *Service) ListAPITokens(ctx context.Context, userID string) ([]models.APIToken, error) {
	var tokens []models.APIToken
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&tokens).Error
	return tokens, err
}

func (s *Service) DeleteAPIToken(ctx context.Context, userID, tokenID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", tokenID, userID).
		Delete(&models.APIToken{})
	return result.RowsAffected > 0, result.Error
}
