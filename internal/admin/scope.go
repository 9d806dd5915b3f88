package admin

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bigkaa/m2m-trust/internal/domain/errs"
)

// Scope — сессия одного workflow, привязанная к одному realm.
// Разные workflow держат независимые Scope и не влияют на контекст друг друга.
type Scope struct {
	mgr   *SessionManager
	realm string

	mu      sync.Mutex
	session *Session
}

func (m *SessionManager) newScope(realm string, session *Session) *Scope {
	return &Scope{mgr: m, realm: realm, session: session}
}

// Realm возвращает realm, к которому привязан Scope.
func (sc *Scope) Realm() string { return sc.realm }

// Session возвращает текущую сессию.
func (sc *Scope) Session() *Session {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.session
}

// refresh заменяет сессию stale новой. Вход всегда выполняется заново
// в master, затем контекст переключается на realm Scope.
// Если сессию уже обновил другой вызов, повторный вход не выполняется.
func (sc *Scope) refresh(ctx context.Context, stale *Session) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.session != stale {
		return nil
	}

	policy := sc.mgr.reauth
	session, err := sc.mgr.Authenticate(ctx, sc.realm, policy.Attempts, policy.Backoff)
	if err != nil {
		return err
	}
	sc.session = session
	return nil
}

// Call выполняет административную операцию fn с сессией Scope.
// При ответе 401 выполняется одна реаутентификация и единственный повтор
// fn; повторная неудача возвращается как *errs.OpError.
// Ошибки, отличные от 401, возвращаются без повтора.
func Call[T any](ctx context.Context, sc *Scope, op string, fn func(context.Context, *Session) (T, error)) (T, error) {
	session := sc.Session()

	v, err := invoke(ctx, sc, session, fn)
	if err == nil || !errs.IsUnauthorized(err) {
		return v, err
	}

	adminReauthTotal.Inc()
	sc.mgr.logger.Warn("Административная сессия отклонена, повторный вход",
		slog.String("op", op),
		slog.String("realm", sc.realm),
	)

	var zero T
	if err := sc.refresh(ctx, session); err != nil {
		return zero, &errs.OpError{Op: op, Err: err}
	}

	v, err = invoke(ctx, sc, sc.Session(), fn)
	if err != nil {
		return zero, &errs.OpError{Op: op, Err: err}
	}
	return v, nil
}

// Do — вариант Call для операций без результата.
func Do(ctx context.Context, sc *Scope, op string, fn func(context.Context, *Session) error) error {
	_, err := Call(ctx, sc, op, func(ctx context.Context, s *Session) (struct{}, error) {
		return struct{}{}, fn(ctx, s)
	})
	return err
}

func invoke[T any](ctx context.Context, sc *Scope, s *Session, fn func(context.Context, *Session) (T, error)) (T, error) {
	ctx, cancel := sc.mgr.withTimeout(ctx)
	defer cancel()
	return fn(ctx, s)
}
