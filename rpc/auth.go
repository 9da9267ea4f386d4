package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

// CallerHeader carries the caller address when bearer authentication is
// disabled.
const CallerHeader = "X-Caller"

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

type contextKey string

const (
	contextKeyCaller    contextKey = "market.caller"
	contextKeyRequestID contextKey = "market.request_id"
)

var (
	errMissingToken   = errors.New("missing bearer token")
	errInvalidToken   = errors.New("invalid token")
	errInvalidCaller  = errors.New("caller must be a hex address")
	errSecretRequired = errors.New("auth secret not configured")
)

// Authenticator resolves the caller address of every request. With auth
// enabled the caller is the `sub` claim of an HS256 bearer token; otherwise
// it is read from the X-Caller header.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	parser *jwt.Parser
}

// NewAuthenticator builds an authenticator from cfg.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if issuer := strings.TrimSpace(cfg.Issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience := strings.TrimSpace(cfg.Audience); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		parser: jwt.NewParser(opts...),
	}
}

// Middleware attaches the resolved caller to the request context. Requests
// without credentials proceed anonymously when auth is disabled.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.resolve(r)
		if err != nil {
			a.logger.WarnContext(r.Context(), "caller authentication failed",
				slog.String("error", err.Error()),
				slog.String("path", r.URL.Path),
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		ctx := r.Context()
		if caller != nil {
			ctx = context.WithValue(ctx, contextKeyCaller, *caller)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) resolve(r *http.Request) (*common.Address, error) {
	if !a.cfg.Enabled {
		value := strings.TrimSpace(r.Header.Get(CallerHeader))
		if value == "" {
			return nil, nil
		}
		if !common.IsHexAddress(value) {
			return nil, errInvalidCaller
		}
		addr := common.HexToAddress(value)
		return &addr, nil
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return nil, errMissingToken
	}
	subject, err := a.parseSubject(tokenString)
	if err != nil {
		a.logger.Debug("token validation failed", slog.String("error", err.Error()))
		return nil, errInvalidToken
	}
	if !common.IsHexAddress(subject) {
		return nil, errInvalidCaller
	}
	addr := common.HexToAddress(subject)
	return &addr, nil
}

func (a *Authenticator) parseSubject(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", errSecretRequired
	}
	claims := jwt.RegisteredClaims{}
	token, err := a.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token invalid")
	}
	return strings.TrimSpace(claims.Subject), nil
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(contextKeyCaller).(common.Address)
	return addr, ok
}

// RequestIDFromContext returns the id assigned to the request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}
