package api

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/taskcast/taskcast/pkg/models"
)

// AuthMode selects how incoming requests are authenticated.
type AuthMode string

const (
	// AuthModeNone authorizes every request with wildcard access.
	AuthModeNone AuthMode = "none"
	// AuthModeToken requires a signed bearer token carrying taskcast claims.
	AuthModeToken AuthMode = "token"
)

const authContextKey = "taskcast.auth"

// AuthContext is the caller identity the handlers authorize against.
type AuthContext struct {
	Sub      string
	AllTasks bool
	TaskIDs  []string
	Scopes   []models.PermissionScope
}

// OpenContext grants access to every task and every scope. Used in none mode.
func OpenContext() AuthContext {
	return AuthContext{
		AllTasks: true,
		Scopes:   []models.PermissionScope{models.ScopeAll},
	}
}

// CheckScope reports whether the context may perform the operation requiring
// the given scope on the given task. An empty taskID skips the task-list
// check (task creation has no task yet).
func CheckScope(auth AuthContext, required models.PermissionScope, taskID string) bool {
	if taskID != "" && !auth.AllTasks {
		found := false
		for _, id := range auth.TaskIDs {
			if id == taskID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, scope := range auth.Scopes {
		if scope == models.ScopeAll || scope == required {
			return true
		}
	}
	return false
}

// TokenConfig configures bearer-token verification. Exactly one of Secret
// (HS256) or PublicKeyPEM (RS256) must be set.
type TokenConfig struct {
	Secret       string
	PublicKeyPEM string
	Issuer       string
	Audience     string
}

// Authorizer authenticates requests and attaches an AuthContext.
type Authorizer struct {
	mode      AuthMode
	secret    []byte
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
}

// NewNoneAuthorizer authorizes every request unconditionally.
func NewNoneAuthorizer() *Authorizer {
	return &Authorizer{mode: AuthModeNone}
}

// NewTokenAuthorizer builds a token-mode authorizer from the given config.
func NewTokenAuthorizer(cfg TokenConfig) (*Authorizer, error) {
	a := &Authorizer{
		mode:     AuthModeToken,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
	switch {
	case cfg.Secret != "":
		a.secret = []byte(cfg.Secret)
	case cfg.PublicKeyPEM != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parsing RSA public key: %w", err)
		}
		a.publicKey = key
	default:
		return nil, fmt.Errorf("token auth requires a secret or a public key")
	}
	return a, nil
}

// tokenClaims is the taskcast claim set carried by bearer tokens.
// taskIds is either the string "*" or a list of task ids; absent means all.
type tokenClaims struct {
	TaskIDs any                      `json:"taskIds"`
	Scope   []models.PermissionScope `json:"scope"`
	jwt.RegisteredClaims
}

// Middleware authenticates the request and stores the AuthContext for the
// handlers. In token mode a missing or invalid credential aborts with 401.
func (a *Authorizer) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.mode == AuthModeNone {
			c.Set(authContextKey, OpenContext())
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing Bearer token"})
			return
		}

		auth, err := a.verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(authContextKey, auth)
		c.Next()
	}
}

func (a *Authorizer) verify(token string) (AuthContext, error) {
	var claims tokenClaims

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "RS256"})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if a.secret == nil {
				return nil, fmt.Errorf("HMAC token but no secret configured")
			}
			return a.secret, nil
		case *jwt.SigningMethodRSA:
			if a.publicKey == nil {
				return nil, fmt.Errorf("RSA token but no public key configured")
			}
			return a.publicKey, nil
		default:
			return nil, fmt.Errorf("unexpected signing method %v", t.Method.Alg())
		}
	}, opts...)
	if err != nil {
		return AuthContext{}, err
	}

	auth := AuthContext{
		Sub:    claims.Subject,
		Scopes: claims.Scope,
	}

	// taskIds is either the wildcard string or an explicit list; anything
	// else (including absence) means unrestricted.
	if ids, ok := claims.TaskIDs.([]any); ok {
		for _, id := range ids {
			if s, ok := id.(string); ok {
				auth.TaskIDs = append(auth.TaskIDs, s)
			}
		}
	} else {
		auth.AllTasks = true
	}

	return auth, nil
}

// authFrom returns the AuthContext the middleware attached. Requests that
// bypass the middleware (tests hitting handlers directly) get open access.
func authFrom(c *gin.Context) AuthContext {
	if v, ok := c.Get(authContextKey); ok {
		if auth, ok := v.(AuthContext); ok {
			return auth
		}
	}
	return OpenContext()
}
