package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"talkback/backend/internal/logging"
	"talkback/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	memberClaim  = "member_id"
	memberCtxKey = "member_id"
)

var errNoMemberClaim = errors.New("token has no member_id claim")

// Authenticator issues and verifies HS256 member tokens.
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewAuthenticator(secret, issuer string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Issue генерує JWT для учасника
func (a *Authenticator) Issue(memberID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		memberClaim: memberID,
		"iat":       now.Unix(),
		"exp":       now.Add(a.ttl).Unix(),
		"iss":       a.issuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Parse validates tokenString and returns the member it was issued to.
func (a *Authenticator) Parse(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errNoMemberClaim
	}
	memberID, _ := claims[memberClaim].(string)
	if memberID == "" {
		return "", errNoMemberClaim
	}
	return memberID, nil
}

// RequireMember rejects requests without a valid bearer token. Browsers
// cannot set headers on EventSource or WebSocket, so ?token= is accepted too.
func (a *Authenticator) RequireMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			var ok bool
			tokenString, ok = strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization must be a Bearer token"})
				return
			}
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
			return
		}
		memberID, err := a.Parse(tokenString)
		if err != nil {
			logging.Ctx(c.Request.Context()).Debug().Err(err).Msg("token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
			return
		}
		c.Set(memberCtxKey, memberID)
		c.Next()
	}
}

func memberID(c *gin.Context) string {
	return c.GetString(memberCtxKey)
}

type issueTokenRequest struct {
	DisplayName string `json:"displayName" binding:"required,max=64"`
}

// IssueToken створює нового учасника та повертає JWT. Лише для розробки.
func (h *Handler) IssueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member := &models.Member{ID: uuid.NewString(), DisplayName: req.DisplayName}
	if err := h.Members.SaveMember(c.Request.Context(), member); err != nil {
		respondError(c, err)
		return
	}

	token, err := h.Auth.Issue(member.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "memberId": member.ID})
}
