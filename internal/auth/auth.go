package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/eztalk/eztalk-proxy/internal/config"
	"github.com/eztalk/eztalk-proxy/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const contextKey = "auth"

type AuthContext struct {
	Subject string
	Email   string
	Name    string
}

type cachedJWKS struct {
	set       jwk.Set
	expiresAt time.Time
}

// JWKSClient fetches and caches the signing keys. A stale set is served when
// a refresh fails.
type JWKSClient struct {
	url        string
	cache      *cachedJWKS
	cacheTTL   time.Duration
	mu         sync.RWMutex
	httpClient *http.Client
	logger     *slog.Logger
}

func NewJWKSClient(url string, cacheTTLSeconds int, httpClient *http.Client, logger *slog.Logger) *JWKSClient {
	ttl := time.Duration(cacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &JWKSClient{
		url:        url,
		cacheTTL:   ttl,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *JWKSClient) GetKeySet(ctx context.Context) (jwk.Set, error) {
	c.mu.RLock()
	if c.cache != nil && time.Now().Before(c.cache.expiresAt) {
		set := c.cache.set
		c.mu.RUnlock()
		return set, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cache != nil && time.Now().Before(c.cache.expiresAt) {
		return c.cache.set, nil
	}

	set, err := c.fetch(ctx)
	if err != nil {
		if c.cache != nil {
			c.logger.Warn("JWKS refresh failed, using cached key set", "error", err)
			return c.cache.set, nil
		}
		return nil, err
	}

	c.cache = &cachedJWKS{
		set:       set,
		expiresAt: time.Now().Add(c.cacheTTL),
	}
	return set, nil
}

func (c *JWKSClient) fetch(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	set, err := jwk.ParseReader(resp.Body, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	return set, nil
}

// Verifier checks bearer tokens against the configured issuer and audience.
type Verifier struct {
	keys *JWKSClient
	cfg  config.AuthConfig
}

func NewVerifier(keys *JWKSClient, cfg config.AuthConfig) *Verifier {
	return &Verifier{keys: keys, cfg: cfg}
}

func (v *Verifier) VerifyToken(ctx context.Context, tokenString string) (*AuthContext, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("token missing kid in header")
		}

		keySet, err := v.keys.GetKeySet(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWKS: %w", err)
		}

		key, found := keySet.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key not found for kid: %s", kid)
		}

		var publicKey any
		if err := key.Raw(&publicKey); err != nil {
			return nil, fmt.Errorf("failed to get public key: %w", err)
		}
		return publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("token missing sub claim")
	}

	authCtx := &AuthContext{Subject: sub}
	if email, ok := claims["email"].(string); ok {
		authCtx.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		authCtx.Name = name
	}
	return authCtx, nil
}

func AuthMiddleware(verifier *Verifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			abort(c, "Missing or invalid authorization header")
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")

		authCtx, err := verifier.VerifyToken(c.Request.Context(), token)
		if err != nil {
			logger.Warn("Rejected bearer token", "error", err, "remote", c.ClientIP())
			abort(c, "Invalid token")
			return
		}

		c.Set(contextKey, authCtx)
		c.Next()
	}
}

func abort(c *gin.Context, message string) {
	c.Header("X-Accel-Buffering", "no")
	c.AbortWithStatusJSON(http.StatusUnauthorized, domain.NewErrorResponse(http.StatusUnauthorized, message))
}

func GetAuthContext(c *gin.Context) (*AuthContext, bool) {
	authCtx, exists := c.Get(contextKey)
	if !exists {
		return nil, false
	}

	ctx, ok := authCtx.(*AuthContext)
	return ctx, ok
}
