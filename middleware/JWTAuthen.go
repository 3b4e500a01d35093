package middleware

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const UserIDKey = "userId"

// maxExactID is the largest integer a JSON number holds without loss.
const maxExactID = 1 << 53

func AccessTokenMiddleware(secret string) gin.HandlerFunc {
	hmacSecret := []byte(secret)
	return func(c *gin.Context) {
		header := c.Request.Header.Get("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "Authorization header is missing"})
			return
		}

		tokenString := strings.Replace(header, "Bearer ", "", 1)
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return hmacSecret, nil
		})
		if err != nil {
			c.AbortWithStatusJSON(403, gin.H{"error": "Token is expired or invalid: " + err.Error()})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			c.AbortWithStatusJSON(401, gin.H{"error": "Invalid token claims"})
			return
		}

		userID, ok := userIDFrom(claims)
		if !ok {
			c.AbortWithStatusJSON(401, gin.H{"error": "Invalid userId in token claims"})
			return
		}
		c.Set("claims", claims)
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// userIDFrom accepts userId as a string or as a positive whole JSON number.
func userIDFrom(claims jwt.MapClaims) (string, bool) {
	switch v := claims["userId"].(type) {
	case string:
		return v, v != ""
	case float64:
		if v < 1 || v > maxExactID || v != math.Trunc(v) {
			return "", false
		}
		return strconv.FormatUint(uint64(v), 10), true
	}
	return "", false
}

// UserID returns the caller set by AccessTokenMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
