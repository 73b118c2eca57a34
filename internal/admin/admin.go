// Package admin exposes the authenticated control API: force-releasing a
// component slot and triggering a graceful shutdown.
package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/soloplane/soloplane/engine"
	"github.com/soloplane/soloplane/internal/logging"
	"github.com/soloplane/soloplane/lifecycle"
)

// AdminTokenHeader carries the static admin token alternative to JWT auth.
const AdminTokenHeader = "X-Admin-Token"

// Config configures the admin surface.
type Config struct {
	// JWTSecret verifies HS256 bearer tokens. Empty disables JWT auth.
	JWTSecret string
	// TokenHash is a bcrypt hash matched against AdminTokenHeader. Empty
	// disables static-token auth.
	TokenHash string
}

// Claims are the JWT claims accepted on admin bearer tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Server handles admin requests.
type Server struct {
	cfg      Config
	eng      *engine.Engine
	log      *logging.Logger
	shutdown func()
}

// New creates the admin server. shutdown is invoked (once, asynchronously)
// by the shutdown endpoint.
func New(cfg Config, eng *engine.Engine, shutdown func(), log *logging.Logger) *Server {
	return &Server{cfg: cfg, eng: eng, shutdown: shutdown, log: log}
}

// Router builds the gin handler.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/admin/v1", s.authenticate)
	v1.POST("/components/:kind/release", s.handleRelease)
	v1.POST("/shutdown", s.handleShutdown)
	return r
}

// authenticate accepts either a valid HS256 bearer token or a static admin
// token matching the configured bcrypt hash.
func (s *Server) authenticate(c *gin.Context) {
	if token := c.GetHeader(AdminTokenHeader); token != "" && s.cfg.TokenHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.TokenHash), []byte(token)); err == nil {
			c.Next()
			return
		}
		s.log.Warn("admin token rejected", "remote", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
		return
	}

	header := c.GetHeader("Authorization")
	if s.cfg.JWTSecret == "" || !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		s.log.Warn("admin bearer token rejected", "remote", c.ClientIP(), "error", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
		return
	}
	c.Set("role", claims.Role)
	c.Next()
}

func (s *Server) handleRelease(c *gin.Context) {
	kind := lifecycle.Kind(c.Param("kind"))
	if err := s.eng.ReleaseComponent(kind); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.log.Info("component force-released", "kind", kind, "remote", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"released": string(kind)})
}

func (s *Server) handleShutdown(c *gin.Context) {
	s.log.Info("shutdown requested", "remote", c.ClientIP())
	c.JSON(http.StatusAccepted, gin.H{"shutting_down": true})
	go s.shutdown()
}

// NewToken mints an HS256 admin bearer token, used by operators and tests.
func NewToken(secret, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			Issuer:    "soloplane",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
