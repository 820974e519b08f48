// internal/auth/auth.go
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken 格式或签名不正确
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("token has expired")
)

// DefaultExpiration 令牌默认有效期
const DefaultExpiration = 30 * 24 * time.Hour

// Token 解析后的令牌
type Token struct {
	UserID    string `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"`
	IssuedAt  int64  `json:"issued_at"`
}

// TokenIssuer 用共享密钥签发和校验用户令牌
//
// 令牌格式为 base64(user|expires|issued).base64(hmac-sha256)。
type TokenIssuer struct {
	secret     []byte
	expiration time.Duration
	now        func() time.Time
}

// NewTokenIssuer 从密钥字符串派生 32 字节签名密钥
func NewTokenIssuer(secret string, expiration time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("secret key is required")
	}
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	key := sha256.Sum256([]byte(secret))
	return &TokenIssuer{secret: key[:], expiration: expiration, now: time.Now}, nil
}

// Issue 为用户签发令牌
func (ti *TokenIssuer) Issue(userID string) (string, error) {
	if userID == "" || strings.Contains(userID, "|") {
		return "", fmt.Errorf("invalid user id %q", userID)
	}

	now := ti.now()
	payload := fmt.Sprintf("%s|%d|%d", userID, now.Add(ti.expiration).Unix(), now.Unix())

	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	encodedSignature := base64.RawURLEncoding.EncodeToString(ti.sign([]byte(payload)))
	return encodedPayload + "." + encodedSignature, nil
}

// Parse 校验签名与有效期
func (ti *TokenIssuer) Parse(tokenString string) (*Token, error) {
	encodedPayload, encodedSignature, ok := strings.Cut(tokenString, ".")
	if !ok {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidToken, err)
	}
	signature, err := base64.RawURLEncoding.DecodeString(encodedSignature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrInvalidToken, err)
	}
	if !hmac.Equal(signature, ti.sign(payload)) {
		return nil, ErrInvalidToken
	}

	parts := strings.Split(string(payload), "|")
	if len(parts) != 3 || parts[0] == "" {
		return nil, ErrInvalidToken
	}
	expiresAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	issuedAt, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if ti.now().Unix() > expiresAt {
		return nil, ErrExpiredToken
	}
	return &Token{UserID: parts[0], ExpiresAt: expiresAt, IssuedAt: issuedAt}, nil
}

func (ti *TokenIssuer) sign(payload []byte) []byte {
	h := hmac.New(sha256.New, ti.secret)
	h.Write(payload)
	return h.Sum(nil)
}

// GenerateSecureKey 生成随机密钥，用于初始化 AUTH_SECRET_KEY
func GenerateSecureKey(length int) ([]byte, error) {
	if length <= 0 {
		length = 32
	}

	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
