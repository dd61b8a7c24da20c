package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/keygate/internal/audit"
	"github.com/vyrodovalexey/keygate/internal/auth"
	"github.com/vyrodovalexey/keygate/internal/auth/jwt"
	"github.com/vyrodovalexey/keygate/internal/observability"
)

// Response envelope values.
const (
	ResponseTypeResult = "RESULT"
	CodeOK             = "200"
	CodeBadRequest     = "40000"
)

var errNoIdentity = errors.New("request carries no authenticated identity")

// envelope wraps successful API results.
type envelope struct {
	ResponseType string   `json:"responseType"`
	Message      []string `json:"message"`
	Result       any      `json:"result,omitempty"`
	Code         string   `json:"code"`
}

func resultEnvelope(result any) envelope {
	return envelope{
		ResponseType: ResponseTypeResult,
		Message:      []string{"OK"},
		Result:       result,
		Code:         CodeOK,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type renewRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type whoamiResponse struct {
	Subject    string `json:"subject"`
	Scope      string `json:"scope,omitempty"`
	KeyVersion int    `json:"keyVersion"`
}

func (s *Server) setupRoutes() {
	actuator := s.engine.Group("/actuator")
	if s.health != nil {
		s.health.RegisterRoutes(actuator)
	}
	if s.metrics != nil {
		s.engine.GET(s.metricsPath, gin.WrapH(s.metrics.Handler()))
	}

	api := s.engine.Group("/api")
	if s.tokens != nil {
		login := []gin.HandlerFunc{s.handleAuthenticate}
		if s.limiter != nil {
			login = append([]gin.HandlerFunc{s.rateLimit}, login...)
		}
		api.POST("/authenticate", login...)
		api.POST("/renewToken", s.handleRenew)
	}
	if s.keys != nil || s.current != nil {
		api.GET("/keys", s.handleKeys)
	}
	api.GET("/whoami", requireIdentity, handleWhoami)

	for _, route := range s.protected {
		s.engine.Handle(strings.ToUpper(route.method), route.path, requireIdentity, gin.WrapH(route.handler))
	}
}

func (s *Server) rateLimit(c *gin.Context) {
	clientIP := s.limiter.ClientIP(c.Request)
	if !s.limiter.Allow(clientIP) {
		s.audit.LogEvent(c.Request.Context(), audit.SecurityEvent(audit.ActionRateLimitExceeded, audit.OutcomeDenied).
			WithClient(clientIP).
			WithResource(c.Request.Method, c.Request.URL.Path))
		s.limiter.Reject(c.Writer, c.Request)
		c.Abort()
		return
	}
	c.Next()
}

// requireIdentity rejects requests the gate let through anonymously.
func requireIdentity(c *gin.Context) {
	if _, ok := auth.IdentityFromContext(c.Request.Context()); !ok {
		auth.WriteError(c.Writer, auth.NewError(auth.KindTokenInvalid, errNoIdentity))
		c.Abort()
		return
	}
	c.Next()
}

func handleWhoami(c *gin.Context) {
	identity, _ := auth.IdentityFromContext(c.Request.Context())
	c.JSON(http.StatusOK, whoamiResponse{
		Subject:    identity.Subject,
		Scope:      identity.Scope,
		KeyVersion: identity.KeyVersion,
	})
}

func (s *Server) handleAuthenticate(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" {
		badRequest(c)
		return
	}

	pair, err := s.tokens.Authenticate(c.Request.Context(), req.Username, req.Password)
	s.audit.LogEvent(c.Request.Context(), s.authEvent(c, audit.ActionLogin, req.Username, err))
	if err != nil {
		s.logger.WithContext(c.Request.Context()).Warn("login failed",
			observability.String("username", req.Username),
			observability.String("error_kind", auth.KindOf(err).String()),
		)
		auth.WriteError(c.Writer, err)
		return
	}
	c.JSON(http.StatusOK, resultEnvelope(pair))
}

func (s *Server) handleRenew(c *gin.Context) {
	var req renewRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		badRequest(c)
		return
	}

	pair, err := s.tokens.Renew(c.Request.Context(), req.RefreshToken)
	s.audit.LogEvent(c.Request.Context(), s.authEvent(c, audit.ActionTokenRefresh, "", err))
	if err != nil {
		s.logger.WithContext(c.Request.Context()).Warn("token renewal failed",
			observability.String("error_kind", auth.KindOf(err).String()),
		)
		auth.WriteError(c.Writer, err)
		return
	}
	c.JSON(http.StatusOK, resultEnvelope(pair))
}

// handleKeys publishes every cached public key plus the current one.
func (s *Server) handleKeys(c *gin.Context) {
	entries := make(map[int]string)
	if s.keys != nil {
		for v, key := range s.keys.Entries() {
			entries[v] = key
		}
	}
	if s.current != nil {
		if bundle := s.current.Snapshot(); bundle.Version > 0 && bundle.HasPublicKey() {
			if _, exists := entries[bundle.Version]; !exists {
				entries[bundle.Version] = bundle.PublicKey
			}
		}
	}

	set, err := jwt.BuildKeySet(entries)
	if err != nil {
		s.logger.WithContext(c.Request.Context()).Error("failed to build key set", observability.Error(err))
		auth.WriteError(c.Writer, auth.NewError(auth.KindKeyMaterialAbsent, err))
		return
	}
	c.JSON(http.StatusOK, set)
}

// authEvent builds the audit record of a login or renewal. Only the error
// kind is recorded, never the submitted credentials.
func (s *Server) authEvent(c *gin.Context, action audit.Action, subject string, err error) *audit.Event {
	outcome := audit.OutcomeSuccess
	if err != nil {
		outcome = audit.OutcomeFailure
	}
	event := audit.AuthenticationEvent(action, outcome, subject).
		WithResource(c.Request.Method, c.Request.URL.Path)
	if s.limiter != nil {
		event.WithClient(s.limiter.ClientIP(c.Request))
	}
	if err != nil {
		event.WithReason(auth.KindOf(err).String())
	}
	return event
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": CodeBadRequest})
}
