package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/elmoiv/Maan/internal/models"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already exists")
)

// UserRepository is the subset of the user store the auth service needs.
type UserRepository interface {
	Create(user *models.User) error
	FindByEmail(email string) (*models.User, error)
	FindByUsername(username string) (*models.User, error)
}

type Service struct {
	repo      UserRepository
	jwtSecret string
}

func NewService(repo UserRepository, jwtSecret string) *Service {
	return &Service{repo: repo, jwtSecret: jwtSecret}
}

// Register creates a user with a bcrypt-hashed password and returns a
// signed token for the new account.
func (s *Service) Register(username, email, password string) (string, *models.User, error) {
	if _, err := s.repo.FindByUsername(username); err == nil {
		return "", nil, ErrUsernameTaken
	}
	if _, err := s.repo.FindByEmail(email); err == nil {
		return "", nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, err
	}
	user := &models.User{Username: username, Email: email, PasswordHash: string(hash)}
	if err := s.repo.Create(user); err != nil {
		return "", nil, err
	}
	token, err := s.GenerateToken(user.ID)
	return token, user, err
}

func (s *Service) Login(email, password string) (string, *models.User, error) {
	user, err := s.repo.FindByEmail(email)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.GenerateToken(user.ID)
	return token, user, err
}

func (s *Service) GenerateToken(userID uint) (string, error) {
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"exp": time.Now().Add(time.Hour * 72).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

// VerifyToken parses and validates a JWT, returning the account id it was
// issued for.
func (s *Service) VerifyToken(tokenStr string) (uint, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return 0, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, errors.New("invalid token")
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return 0, errors.New("invalid sub claim")
	}
	id, err := strconv.ParseUint(sub, 10, 64)
	if err != nil {
		return 0, errors.New("invalid sub claim")
	}
	return uint(id), nil
}
