package service

import (
	"context"
	"errors"
	"fmt"
	"receipt-rag-go/internal/model"
	"receipt-rag-go/internal/repository"
	"receipt-rag-go/pkg/hash"
	"receipt-rag-go/pkg/log"
	"receipt-rag-go/pkg/token"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	// ErrUserExists 表示邮箱已被注册。
	ErrUserExists = errors.New("email already registered")
	// ErrInvalidCredentials 表示邮箱或密码错误。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound 表示用户不存在。
	ErrUserNotFound = errors.New("user not found")
)

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(email, name, password string) (*model.User, error)
	Login(email, password string) (accessToken, refreshToken string, err error)
	GetProfile(userID uint) (*model.User, error)
	Logout(tokenString string) error
	IsTokenRevoked(ctx context.Context, tokenString string) bool
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
	rdb        *redis.Client
}

// NewUserService 创建一个新的 UserService 实例。rdb 为 nil 时不支持 token 黑名单。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager, rdb *redis.Client) UserService {
	return &userService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
		rdb:        rdb,
	}
}

// Register 处理用户注册的业务逻辑。
func (s *userService) Register(email, name, password string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	// 1. 检查邮箱是否已存在
	_, err := s.userRepo.FindByEmail(email)
	if err == nil {
		return nil, ErrUserExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 创建新用户
	newUser := &model.User{
		Email:    email,
		Name:     strings.TrimSpace(name),
		Password: hashedPassword,
		Role:     "USER",
	}
	if err := s.userRepo.Create(newUser); err != nil {
		log.Errorf("[UserService] 创建用户失败, email: %s, error: %v", email, err)
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}
	return newUser, nil
}

// Login 处理用户登录的业务逻辑。
func (s *userService) Login(email, password string) (accessToken, refreshToken string, err error) {
	user, err := s.userRepo.FindByEmail(strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrInvalidCredentials
		}
		return "", "", err
	}

	if !hash.CheckPasswordHash(password, user.Password) {
		return "", "", ErrInvalidCredentials
	}

	accessToken, err = s.jwtManager.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		return "", "", err
	}
	refreshToken, err = s.jwtManager.GenerateRefreshToken(user.ID, user.Email, user.Role)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// GetProfile 根据用户 ID 获取用户详细信息。
func (s *userService) GetProfile(userID uint) (*model.User, error) {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// Logout 处理用户登出逻辑，将 token 加入 Redis 黑名单。
func (s *userService) Logout(tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	if s.rdb == nil {
		return nil
	}
	// token 的剩余有效期将作为 Redis key 的过期时间。
	expiration := time.Until(claims.ExpiresAt.Time)
	return s.rdb.Set(context.Background(), "blacklist:"+tokenString, "true", expiration).Err()
}

// IsTokenRevoked 检查 token 是否已登出。Redis 不可用时视为未吊销。
func (s *userService) IsTokenRevoked(ctx context.Context, tokenString string) bool {
	if s.rdb == nil {
		return false
	}
	n, err := s.rdb.Exists(ctx, "blacklist:"+tokenString).Result()
	if err != nil {
		log.Warnf("[UserService] 查询 token 黑名单失败: %v", err)
		return false
	}
	return n > 0
}

// RefreshToken 验证 refresh token 并签发新的 access token 和 refresh token。
func (s *userService) RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error) {
	claims, err := s.jwtManager.VerifyRefreshToken(refreshTokenString)
	if err != nil {
		return "", "", errors.New("invalid refresh token")
	}

	user, err := s.userRepo.FindByID(claims.UserID)
	if err != nil {
		return "", "", ErrUserNotFound
	}

	newAccessToken, err = s.jwtManager.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		return "", "", err
	}
	newRefreshToken, err = s.jwtManager.GenerateRefreshToken(user.ID, user.Email, user.Role)
	if err != nil {
		return "", "", err
	}
	return newAccessToken, newRefreshToken, nil
}
