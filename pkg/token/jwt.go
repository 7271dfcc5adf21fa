// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// token 类型，写入 claims 的 typ 字段。
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// ErrWrongTokenType 表示 token 有效但用途不符，例如用 refresh token 访问接口。
var ErrWrongTokenType = errors.New("wrong token type")

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey       []byte
	accessTokenDur  time.Duration
	refreshTokenDur time.Duration
}

// CustomClaims 定义了存储在 JWT 中的用户信息。
type CustomClaims struct {
	UserID uint   `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
// accessTokenExpireHours 与 refreshTokenExpireDays 分别是两种 token 的有效期。
func NewJWTManager(secret string, accessTokenExpireHours, refreshTokenExpireDays int) *JWTManager {
	return &JWTManager{
		secretKey:       []byte(secret),
		accessTokenDur:  time.Hour * time.Duration(accessTokenExpireHours),
		refreshTokenDur: time.Duration(refreshTokenExpireDays) * 24 * time.Hour,
	}
}

func (m *JWTManager) sign(userID uint, email, role, typ string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// GenerateToken 为用户签发 access token。
func (m *JWTManager) GenerateToken(userID uint, email, role string) (string, error) {
	return m.sign(userID, email, role, TypeAccess, m.accessTokenDur)
}

// GenerateRefreshToken 为用户签发有效期更长的 refresh token。
func (m *JWTManager) GenerateRefreshToken(userID uint, email, role string) (string, error) {
	return m.sign(userID, email, role, TypeRefresh, m.refreshTokenDur)
}

// VerifyToken 校验签名与有效期，返回 claims，不检查 token 类型。
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// VerifyAccessToken 校验 token 并要求其为 access token。
func (m *JWTManager) VerifyAccessToken(tokenString string) (*CustomClaims, error) {
	return m.verifyType(tokenString, TypeAccess)
}

// VerifyRefreshToken 校验 token 并要求其为 refresh token。
func (m *JWTManager) VerifyRefreshToken(tokenString string) (*CustomClaims, error) {
	return m.verifyType(tokenString, TypeRefresh)
}

func (m *JWTManager) verifyType(tokenString, typ string) (*CustomClaims, error) {
	claims, err := m.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != typ {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
