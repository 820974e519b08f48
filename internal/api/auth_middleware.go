// internal/api/auth_middleware.go
package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/SceneRelay/internal/auth"
	"github.com/Corphon/SceneRelay/internal/utils"
)

const (
	userIDKey    = "user_id"
	userIDHeader = "X-User-ID"
)

// AuthMiddleware 识别调用者
//
// 配置了 tokens 时只接受 Bearer 令牌；否则信任 X-User-ID 请求头。
func AuthMiddleware(tokens *auth.TokenIssuer) gin.HandlerFunc {
	helper := NewResponseHelper()
	logger := utils.GetLogger()

	return func(c *gin.Context) {
		if tokens == nil {
			userID := strings.TrimSpace(c.GetHeader(userIDHeader))
			if userID == "" {
				userID = strings.TrimSpace(c.Query("user_id"))
			}
			if userID == "" {
				helper.Unauthorized(c, "X-User-ID header is required")
				return
			}
			c.Set(userIDKey, userID)
			c.Next()
			return
		}

		token := bearerToken(c)
		if token == "" {
			helper.Unauthorized(c, "Authorization required")
			return
		}

		parsed, err := tokens.Parse(token)
		if err != nil {
			logger.Debug("auth rejected", map[string]interface{}{"error": err.Error(), "path": c.Request.URL.Path})
			helper.Unauthorized(c, "Invalid token")
			return
		}

		c.Set(userIDKey, parsed.UserID)
		c.Next()
	}
}

// bearerToken 取 Authorization 头；浏览器 WebSocket 无法设置请求头，允许 token 查询参数
func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.Query("token"))
}

// GetUserFromContext 返回认证后的用户 ID
func GetUserFromContext(c *gin.Context) string {
	return c.GetString(userIDKey)
}
