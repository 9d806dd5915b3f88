// Пакет server — HTTP-серверы trust-broker и trust-consumer с graceful shutdown.
// Без TLS: TLS termination выполняется на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/m2m-trust/api/openapi"
	"github.com/bigkaa/m2m-trust/internal/api/generated/brokerapi"
	"github.com/bigkaa/m2m-trust/internal/api/generated/consumerapi"
	"github.com/bigkaa/m2m-trust/internal/api/handlers"
	"github.com/bigkaa/m2m-trust/internal/api/middleware"
)

// Server — HTTP-сервер.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// New создаёт HTTP-сервер на порту port с готовым роутером.
func New(port int, shutdownTimeout time.Duration, handler http.Handler, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer:      srv,
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

// newRouter — роутер с глобальными middleware.
// Health и metrics проверяются Kubernetes напрямую, без аутентификации.
func newRouter(logger *slog.Logger) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(chimw.Recoverer)
	return router
}

// BrokerAuth — аутентификация API trust-broker.
type BrokerAuth struct {
	// Admin — JWT операторов для инициализации realm и управления клиентами.
	// nil — административный API без аутентификации (TB_API_AUTH_ENABLED=false).
	Admin *middleware.JWTAuth
	// AdminClientID, AdminRole — роль клиента, обязательная для оператора.
	AdminClientID string
	AdminRole     string
	// Resource — интроспекция токенов потребителей защищённого ресурса.
	Resource *middleware.BearerAuth
	// RequiredScope — scope токена для защищённого ресурса ("" — не проверяется).
	RequiredScope string
}

// middleware выбирает цепочку аутентификации по схеме безопасности операции,
// которую сгенерированный wrapper кладёт в контекст.
func (a BrokerAuth) middleware() brokerapi.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		admin := next
		if a.Admin != nil {
			admin = a.Admin.Middleware()(middleware.RequireClientRole(a.AdminClientID, a.AdminRole)(next))
		}
		resource := next
		if a.RequiredScope != "" {
			resource = middleware.RequireScope(a.RequiredScope)(next)
		}
		resource = a.Resource.Middleware()(resource)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Context().Value(brokerapi.AdminAuthScopes) != nil:
				admin.ServeHTTP(w, r)
			case r.Context().Value(brokerapi.ResourceAuthScopes) != nil:
				resource.ServeHTTP(w, r)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// NewBrokerRouter создаёт роутер trust-broker по OpenAPI-контракту.
// Порядок для операции: аутентификация, затем валидация запроса, затем обработчик.
func NewBrokerRouter(h *handlers.BrokerHandler, auth BrokerAuth, logger *slog.Logger) (http.Handler, error) {
	doc, err := openapi.Broker()
	if err != nil {
		return nil, err
	}
	validate, err := middleware.OpenAPIValidator(doc)
	if err != nil {
		return nil, err
	}

	router := newRouter(logger)
	brokerapi.HandlerWithOptions(h, brokerapi.ChiServerOptions{
		BaseRouter:       router,
		Middlewares:      []brokerapi.MiddlewareFunc{validate, auth.middleware()},
		ErrorHandlerFunc: handlers.ParamError,
	})
	return router, nil
}

// NewConsumerRouter создаёт роутер trust-consumer по OpenAPI-контракту.
func NewConsumerRouter(h *handlers.ConsumerHandler, logger *slog.Logger) (http.Handler, error) {
	doc, err := openapi.Consumer()
	if err != nil {
		return nil, err
	}
	validate, err := middleware.OpenAPIValidator(doc)
	if err != nil {
		return nil, err
	}

	router := newRouter(logger)
	consumerapi.HandlerWithOptions(h, consumerapi.ChiServerOptions{
		BaseRouter:       router,
		Middlewares:      []consumerapi.MiddlewareFunc{validate},
		ErrorHandlerFunc: handlers.ParamError,
	})
	return router, nil
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. После этого выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
