package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/bigkaa/m2m-trust/internal/domain/errs"
	"github.com/bigkaa/m2m-trust/internal/keycloak"
	"github.com/bigkaa/m2m-trust/internal/keycloak/kctest"
)

const loginPath = "/realms/master/protocol/openid-connect/token"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestManager создаёт SessionManager поверх fake Keycloak с короткими паузами.
func newTestManager(t *testing.T, password string) (*kctest.Server, *keycloak.Client, *SessionManager) {
	t.Helper()

	kc := kctest.New(t)
	client := keycloak.New(kc.URL(), kc.HTTPClient(), testLogger())
	mgr := NewSessionManager(client,
		Credentials{ClientID: kctest.AdminClientID, Username: kctest.AdminUser, Password: password},
		RetryPolicy{Attempts: 3, Backoff: time.Millisecond},
		RetryPolicy{Attempts: 2, Backoff: time.Millisecond},
		5*time.Second,
		testLogger(),
	)
	return kc, client, mgr
}

func TestAuthenticate_SwitchesRealmWithoutRelogin(t *testing.T) {
	kc, _, mgr := newTestManager(t, kctest.AdminPassword)

	session, err := mgr.Authenticate(context.Background(), "demo", 1, 0)
	if err != nil {
		t.Fatalf("Ошибка аутентификации: %v", err)
	}
	if session.Realm() != "demo" {
		t.Errorf("ожидался realm demo, получен %s", session.Realm())
	}
	if n := kc.CountRequests(http.MethodPost, loginPath); n != 1 {
		t.Errorf("ожидался 1 вход в master, было %d", n)
	}
}

func TestAuthenticate_RetriesThenSucceeds(t *testing.T) {
	kc, _, mgr := newTestManager(t, kctest.AdminPassword)
	kc.FailNext(http.MethodPost, loginPath, http.StatusServiceUnavailable, 2)

	session, err := mgr.Authenticate(context.Background(), "master", 3, time.Millisecond)
	if err != nil {
		t.Fatalf("Ошибка аутентификации: %v", err)
	}
	if session.Realm() != "master" {
		t.Errorf("ожидался realm master, получен %s", session.Realm())
	}
	if n := kc.CountRequests(http.MethodPost, loginPath); n != 3 {
		t.Errorf("ожидалось 3 попытки входа, было %d", n)
	}
}

func TestAuthenticate_ExhaustedRetries(t *testing.T) {
	kc, _, mgr := newTestManager(t, "wrong")

	_, err := mgr.Authenticate(context.Background(), "demo", 3, time.Millisecond)
	if !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("ожидалась ErrAuthentication, получено: %v", err)
	}
	// Последняя причина сохраняется
	if !errs.IsStatus(err, http.StatusUnauthorized) {
		t.Errorf("ожидалась причина 401, получено: %v", err)
	}
	if n := kc.CountRequests(http.MethodPost, loginPath); n != 3 {
		t.Errorf("ожидалось 3 попытки входа, было %d", n)
	}
}

func TestAuthenticate_CancelledDuringBackoff(t *testing.T) {
	_, _, mgr := newTestManager(t, "wrong")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := mgr.Authenticate(ctx, "demo", 10, time.Second)
	if !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("ожидалась ErrAuthentication, получено: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ожидалась причина DeadlineExceeded, получено: %v", err)
	}
	if time.Since(start) > 900*time.Millisecond {
		t.Error("отмена контекста должна прерывать паузу между попытками")
	}
}

func TestCall_ReauthenticatesOnceOn401(t *testing.T) {
	kc, client, mgr := newTestManager(t, kctest.AdminPassword)
	kc.AddRealm("demo")
	ctx := context.Background()

	sc, err := mgr.Open(ctx, "demo")
	if err != nil {
		t.Fatalf("Ошибка открытия сессии: %v", err)
	}
	first := sc.Session()

	kc.ExpireAdminSessions()

	realm, err := Call(ctx, sc, "GetRealm", func(ctx context.Context, s *Session) (*keycloak.RealmRepresentation, error) {
		return client.GetRealm(ctx, s, s.Realm())
	})
	if err != nil {
		t.Fatalf("операция должна пройти после реаутентификации: %v", err)
	}
	if realm.Realm != "demo" {
		t.Errorf("ожидался realm demo, получен %s", realm.Realm)
	}

	if sc.Session() == first {
		t.Error("сессия Scope должна быть заменена")
	}
	if sc.Session().Realm() != "demo" {
		t.Errorf("после реаутентификации realm должен остаться demo, получен %s", sc.Session().Realm())
	}
	if n := kc.CountRequests(http.MethodPost, loginPath); n != 2 {
		t.Errorf("ожидалось 2 входа (начальный + реаутентификация), было %d", n)
	}
	if n := kc.CountRequests(http.MethodGet, "/admin/realms/demo"); n != 2 {
		t.Errorf("операция должна выполниться ровно 2 раза, было %d", n)
	}
}

func TestCall_SecondFailureIsOpError(t *testing.T) {
	kc, _, mgr := newTestManager(t, kctest.AdminPassword)
	ctx := context.Background()

	sc, err := mgr.Open(ctx, "demo")
	if err != nil {
		t.Fatalf("Ошибка открытия сессии: %v", err)
	}

	calls := 0
	_, err = Call(ctx, sc, "CreateRole", func(context.Context, *Session) (int, error) {
		calls++
		return 0, errs.NewProviderError("CreateRole", http.StatusUnauthorized, nil)
	})

	var opErr *errs.OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("ожидалась OpError, получено: %v", err)
	}
	if opErr.Op != "CreateRole" {
		t.Errorf("ожидалась операция CreateRole, получена %s", opErr.Op)
	}
	if !errors.Is(err, errs.ErrProvider) {
		t.Error("OpError должна оборачивать исходную ProviderError")
	}
	if calls != 2 {
		t.Errorf("операция должна выполниться ровно 2 раза, было %d", calls)
	}
	if n := kc.CountRequests(http.MethodPost, loginPath); n != 2 {
		t.Errorf("ожидалось 2 входа, было %d", n)
	}
}

func TestCall_NonAuthErrorNotRetried(t *testing.T) {
	_, _, mgr := newTestManager(t, kctest.AdminPassword)
	ctx := context.Background()

	sc, err := mgr.Open(ctx, "demo")
	if err != nil {
		t.Fatalf("Ошибка открытия сессии: %v", err)
	}

	calls := 0
	err = Do(ctx, sc, "CreateRealm", func(context.Context, *Session) error {
		calls++
		return errs.NewProviderError("CreateRealm", http.StatusInternalServerError, []byte("boom"))
	})

	if !errs.IsStatus(err, http.StatusInternalServerError) {
		t.Fatalf("ожидалась ProviderError 500, получено: %v", err)
	}
	var opErr *errs.OpError
	if errors.As(err, &opErr) {
		t.Error("ошибка без повтора не должна оборачиваться в OpError")
	}
	if calls != 1 {
		t.Errorf("операция должна выполниться 1 раз, было %d", calls)
	}
}

func TestCall_ReauthFailureIsOpError(t *testing.T) {
	kc, _, mgr := newTestManager(t, kctest.AdminPassword)
	ctx := context.Background()

	sc, err := mgr.Open(ctx, "demo")
	if err != nil {
		t.Fatalf("Ошибка открытия сессии: %v", err)
	}

	// Политика реаутентификации — 2 попытки, обе неудачны
	kc.FailNext(http.MethodPost, loginPath, http.StatusServiceUnavailable, 2)

	calls := 0
	err = Do(ctx, sc, "GetRealm", func(context.Context, *Session) error {
		calls++
		return errs.NewProviderError("GetRealm", http.StatusUnauthorized, nil)
	})

	if !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("ожидалась ErrAuthentication внутри OpError, получено: %v", err)
	}
	var opErr *errs.OpError
	if !errors.As(err, &opErr) {
		t.Errorf("ожидалась OpError, получено: %T", err)
	}
	if calls != 1 {
		t.Errorf("без успешного входа повтор не выполняется, вызовов %d", calls)
	}
}

func TestCall_ConcurrentScopesAreIndependent(t *testing.T) {
	kc, client, mgr := newTestManager(t, kctest.AdminPassword)
	kc.AddRealm("alpha")
	kc.AddRealm("beta")
	ctx := context.Background()

	alpha, err := mgr.Open(ctx, "alpha")
	if err != nil {
		t.Fatalf("Ошибка открытия сессии: %v", err)
	}
	beta, err := mgr.Open(ctx, "beta")
	if err != nil {
		t.Fatalf("Ошибка открытия сессии: %v", err)
	}

	kc.ExpireAdminSessions()

	done := make(chan string, 2)
	for _, sc := range []*Scope{alpha, beta} {
		go func() {
			r, err := Call(ctx, sc, "GetRealm", func(ctx context.Context, s *Session) (*keycloak.RealmRepresentation, error) {
				return client.GetRealm(ctx, s, s.Realm())
			})
			if err != nil {
				done <- "error: " + err.Error()
				return
			}
			done <- r.Realm
		}()
	}

	got := map[string]bool{<-done: true, <-done: true}
	if !got["alpha"] || !got["beta"] {
		t.Errorf("каждый Scope должен сохранить свой realm, получено %v", got)
	}
}
