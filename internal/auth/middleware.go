package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// APIKeyHeader carries a static machine key.
	APIKeyHeader = "X-API-Key"
	claimsKey    = "claims"
)

// MachineAuth admits a request that carries one of apiKeys in the
// X-API-Key header, or a bearer JWT signed with signingKey.
func MachineAuth(apiKeys []string, signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(APIKeyHeader); key != "" {
			if !knownKey(apiKeys, key) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
				return
			}
			c.Next()
			return
		}
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// APIKeyOnly admits requests with a known X-API-Key. Used for routes
// that mint tokens.
func APIKeyOnly(apiKeys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !knownKey(apiKeys, c.GetHeader(APIKeyHeader)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the JWT claims set by MachineAuth. ok is false for
// requests authenticated by API key.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func knownKey(keys []string, got string) bool {
	if got == "" {
		return false
	}
	for _, k := range keys {
		if k != "" && subtle.ConstantTimeCompare([]byte(k), []byte(got)) == 1 {
			return true
		}
	}
	return false
}
