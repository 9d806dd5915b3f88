// jwt.go — JWT middleware административного API trust-broker.
// Проверяет подпись токена оператора (RS256) по JWKS realm, извлекает claims
// и помещает их в контекст. Авторизация — по роли клиента из resource_access.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/m2m-trust/internal/api/errors"
)

// ContextKeyClaims — claims оператора в контексте запроса.
const ContextKeyClaims contextKey = "jwt_claims"

// AuthClaims — claims токена оператора, нужные для авторизации.
type AuthClaims struct {
	// Subject — sub из JWT (ID пользователя service account в Keycloak).
	Subject string
	// ClientID — client_id (или azp, если client_id не выпущен).
	ClientID string
	// Scopes — scopes из claim "scope".
	Scopes []string
	// ClientRoles — роли клиентов из resource_access: clientId -> роли.
	ClientRoles map[string][]string
}

// HasClientRole проверяет наличие роли клиента clientID.
func (c *AuthClaims) HasClientRole(clientID, role string) bool {
	return slices.Contains(c.ClientRoles[clientID], role)
}

// keycloakClaims — raw claims из Keycloak JWT.
type keycloakClaims struct {
	jwt.RegisteredClaims
	Scope          string                    `json:"scope,omitempty"`
	ClientID       string                    `json:"client_id,omitempty"`
	Azp            string                    `json:"azp,omitempty"`
	ResourceAccess map[string]resourceAccess `json:"resource_access,omitempty"`
}

type resourceAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth — middleware JWT-аутентификации через JWKS Keycloak.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	issuer    string
	jwtLeeway time.Duration
	logger    *slog.Logger
}

// NewJWTAuth создаёт middleware. kf — keyfunc по JWKS realm операторов
// (см. introspect.NewJWKSKeyfunc), issuer — ожидаемый iss ("" — не проверять).
func NewJWTAuth(kf keyfunc.Keyfunc, issuer string, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:      kf,
		issuer:    issuer,
		jwtLeeway: leeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware JWT-аутентификации.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			raw := &keycloakClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, raw, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if raw.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, buildAuthClaims(raw))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func buildAuthClaims(raw *keycloakClaims) *AuthClaims {
	claims := &AuthClaims{
		Subject:     raw.Subject,
		ClientID:    raw.ClientID,
		Scopes:      strings.Fields(raw.Scope),
		ClientRoles: make(map[string][]string, len(raw.ResourceAccess)),
	}
	if claims.ClientID == "" {
		claims.ClientID = raw.Azp
	}
	for client, access := range raw.ResourceAccess {
		claims.ClientRoles[client] = access.Roles
	}
	return claims
}

// ClaimsFromContext возвращает claims оператора или nil.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// RequireClientRole возвращает middleware, требующий роль role клиента clientID.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireClientRole(clientID, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}
			if !claims.HasClientRole(clientID, role) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s клиента %s", role, clientID))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
