// Пакет admin — административные сессии Keycloak.
// SessionManager выполняет вход в master realm с ограниченным числом попыток,
// Scope хранит сессию одного workflow, Call повторяет операцию после
// реаутентификации при ответе 401.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/m2m-trust/internal/domain/errs"
	"github.com/bigkaa/m2m-trust/internal/domain/model"
	"github.com/bigkaa/m2m-trust/internal/keycloak"
)

// Session — неизменяемая административная сессия (токен + активный realm).
type Session = keycloak.AdminSession

// Prometheus-метрики административных сессий.
var (
	adminLoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tb_admin_logins_total",
		Help: "Количество входов администратора в master realm",
	}, []string{"result"})

	adminReauthTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tb_admin_reauth_total",
		Help: "Количество реаутентификаций после ответа 401 от Admin REST API",
	})
)

// Authenticator выполняет password grant в master realm.
type Authenticator interface {
	Login(ctx context.Context, clientID, username, password string) (*keycloak.AdminSession, error)
}

// Credentials — учётные данные администратора master realm.
type Credentials struct {
	ClientID string
	Username string
	Password string
}

// RetryPolicy — число попыток и фиксированная пауза между ними.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// SessionManager создаёт административные сессии.
type SessionManager struct {
	auth        Authenticator
	creds       Credentials
	login       RetryPolicy
	reauth      RetryPolicy
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewSessionManager создаёт менеджер сессий.
// login — политика первичного входа, reauth — политика входа после 401.
// callTimeout ограничивает каждый вызов провайдера (0 — без ограничения).
func NewSessionManager(
	auth Authenticator,
	creds Credentials,
	login, reauth RetryPolicy,
	callTimeout time.Duration,
	logger *slog.Logger,
) *SessionManager {
	return &SessionManager{
		auth:        auth,
		creds:       creds,
		login:       login,
		reauth:      reauth,
		callTimeout: callTimeout,
		logger:      logger.With(slog.String("component", "admin_session")),
	}
}

// Authenticate входит в master realm (единственный realm, где допустим
// административный вход) и при targetRealm != master переключает контекст
// сессии без повторного входа. Неудачные попытки повторяются до maxRetries
// раз с паузой backoff; после исчерпания возвращается ErrAuthentication,
// оборачивающая последнюю причину.
func (m *SessionManager) Authenticate(ctx context.Context, targetRealm string, maxRetries int, backoff time.Duration) (*Session, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		session, err := m.loginOnce(ctx)
		if err == nil {
			adminLoginsTotal.WithLabelValues("success").Inc()
			if targetRealm != "" && targetRealm != model.MasterRealm {
				session = session.InRealm(targetRealm)
			}
			return session, nil
		}
		lastErr = err

		m.logger.Warn("Вход администратора не удался",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxRetries),
			slog.String("error", err.Error()),
		)
		if attempt == maxRetries {
			break
		}

		if err := sleep(ctx, backoff); err != nil {
			lastErr = err
			break
		}
	}

	adminLoginsTotal.WithLabelValues("failure").Inc()
	return nil, fmt.Errorf("%w: %w", errs.ErrAuthentication, lastErr)
}

func (m *SessionManager) loginOnce(ctx context.Context) (*Session, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.auth.Login(ctx, m.creds.ClientID, m.creds.Username, m.creds.Password)
}

func (m *SessionManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.callTimeout)
}

// Open выполняет вход с политикой первичного входа и возвращает Scope для realm.
func (m *SessionManager) Open(ctx context.Context, realm string) (*Scope, error) {
	session, err := m.Authenticate(ctx, realm, m.login.Attempts, m.login.Backoff)
	if err != nil {
		return nil, err
	}
	return m.newScope(realm, session), nil
}

// sleep ждёт d или отмены ctx.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
