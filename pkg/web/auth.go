package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"
)

func parseToken(token *jwt.Token) (interface{}, error) {
	// Check we have been signed by an acceptable algorithm
	wellKnownData, err := GetWellKnownData()
	if err != nil {
		return nil, err
	}
	found := false
	for _, alg := range wellKnownData.SignatureTypes {
		if alg == token.Header["alg"] {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("signature type %s is not valid", token.Header["alg"])
	}

	keyIDInterface, exists := token.Header["kid"]
	if !exists {
		return nil, errors.New("kid claim in header doesnt exist")
	}
	keyID, ok := keyIDInterface.(string)
	if !ok {
		return nil, errors.New("kid claim in header is not a string")
	}

	keyData, err := LookupKey(keyID)
	return keyData, err
}

// AuthRequired validates service bearer tokens issued by the platform
// identity provider. Debug mode trusts the token's subject without
// validating claims, for local development against a fake issuer.
func (h *Handlers) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.Request.Header.Get("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing Authorization header"})
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid Authorization header"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		token := parts[1]

		parser := jwt.Parser{
			SkipClaimsValidation: h.Debug,
		}
		parsedToken, err := parser.Parse(token, parseToken)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to validate token")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "failed to validate token"})
			c.Abort()
			return
		}

		claims, ok := parsedToken.Claims.(jwt.MapClaims)
		if !ok || !parsedToken.Valid {
			log.Warn().Msg("Failed to validate token, something wrong with claims")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "failed to validate token"})
			c.Abort()
			return
		}

		subject, _ := claims["sub"].(string)
		if subject == "" {
			log.Warn().Msg("Failed to validate token, no subject")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "failed to validate token"})
			c.Abort()
			return
		}

		c.Set("subject", subject)
		c.Next()
	}
}
