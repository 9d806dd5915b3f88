// auth.go — middleware проверки bearer-токена через интроспекцию.
// Извлекает токен из Authorization, проверяет его TokenValidator'ом
// и помещает результат интроспекции в контекст запроса.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/m2m-trust/internal/api/errors"
	"github.com/bigkaa/m2m-trust/internal/domain/errs"
	"github.com/bigkaa/m2m-trust/internal/domain/model"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyIntrospection — результат интроспекции в контексте запроса.
const ContextKeyIntrospection contextKey = "introspection"

// TokenValidator проверяет bearer-токен. Реализуется *introspect.Validator.
type TokenValidator interface {
	Validate(ctx context.Context, bearerToken string) (*model.Introspection, error)
}

// BearerAuth — middleware аутентификации по bearer-токену.
type BearerAuth struct {
	validator TokenValidator
	logger    *slog.Logger
}

// NewBearerAuth создаёт middleware.
func NewBearerAuth(validator TokenValidator, logger *slog.Logger) *BearerAuth {
	return &BearerAuth{
		validator: validator,
		logger:    logger.With(slog.String("component", "bearer_auth")),
	}
}

// Middleware возвращает HTTP middleware. Недоступность интроспекции
// отвечает 502 и никогда не пропускает запрос дальше.
func (a *BearerAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			info, err := a.validator.Validate(r.Context(), token)
			if err != nil {
				if errs.Kind(err) != errs.KindUnauthorized {
					a.logger.Warn("Токен не принят",
						slog.String("error", err.Error()),
						slog.String("remote_addr", r.RemoteAddr),
					)
				}
				apierrors.FromError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyIntrospection, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IntrospectionFromContext возвращает результат интроспекции или nil.
func IntrospectionFromContext(ctx context.Context) *model.Introspection {
	info, _ := ctx.Value(ContextKeyIntrospection).(*model.Introspection)
	return info
}

// RequireScope возвращает middleware, требующий scope у токена.
// Должен использоваться ПОСЛЕ BearerAuth.Middleware().
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := IntrospectionFromContext(r.Context())
			if info == nil {
				apierrors.Unauthorized(w, "Требуется аутентификация")
				return
			}
			if !info.HasScope(scope) {
				apierrors.Forbidden(w, "Недостаточно прав: требуется scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
