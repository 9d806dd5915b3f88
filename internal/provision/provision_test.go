package provision

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/m2m-trust/internal/admin"
	"github.com/bigkaa/m2m-trust/internal/domain/errs"
	"github.com/bigkaa/m2m-trust/internal/domain/model"
	"github.com/bigkaa/m2m-trust/internal/keycloak"
	"github.com/bigkaa/m2m-trust/internal/keycloak/kctest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEnv — fake Keycloak, клиент и менеджер сессий.
type testEnv struct {
	kc       *kctest.Server
	client   *keycloak.Client
	sessions *admin.SessionManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	kc := kctest.New(t)
	client := keycloak.New(kc.URL(), kc.HTTPClient(), testLogger())
	sessions := admin.NewSessionManager(client,
		admin.Credentials{ClientID: kctest.AdminClientID, Username: kctest.AdminUser, Password: kctest.AdminPassword},
		admin.RetryPolicy{Attempts: 3, Backoff: time.Millisecond},
		admin.RetryPolicy{Attempts: 2, Backoff: time.Millisecond},
		5*time.Second,
		testLogger(),
	)
	return &testEnv{kc: kc, client: client, sessions: sessions}
}

func (e *testEnv) scope(t *testing.T, realm string) *admin.Scope {
	t.Helper()
	sc, err := e.sessions.Open(context.Background(), realm)
	if err != nil {
		t.Fatalf("Ошибка открытия административной сессии: %v", err)
	}
	return sc
}

// grantStatus выполняет client_credentials grant и возвращает HTTP-статус.
func (e *testEnv) grantStatus(t *testing.T, realm, clientID, secret string) int {
	t.Helper()

	resp, err := e.kc.HTTPClient().PostForm(e.kc.TokenURL(realm), url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {secret},
	})
	if err != nil {
		t.Fatalf("Ошибка запроса токена: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestEnsureRealm_SecondCallDoesNotMutate(t *testing.T) {
	env := newTestEnv(t)
	p := NewProvisioner(env.client, testLogger())
	sc := env.scope(t, "demo")
	ctx := context.Background()

	existed, err := p.EnsureRealm(ctx, sc, "demo")
	if err != nil {
		t.Fatalf("Ошибка создания realm: %v", err)
	}
	if existed {
		t.Error("realm не должен существовать до первого вызова")
	}
	if !env.kc.HasRealm("demo") {
		t.Fatal("realm demo должен быть создан")
	}

	env.kc.ResetRequests()

	existed, err = p.EnsureRealm(ctx, sc, "demo")
	if err != nil {
		t.Fatalf("Ошибка повторного вызова: %v", err)
	}
	if !existed {
		t.Error("второй вызов должен сообщить, что realm существовал")
	}
	if n := env.kc.CountMutations(); n != 0 {
		t.Errorf("второй вызов не должен изменять состояние, изменяющих запросов: %d", n)
	}
}

func TestEnsureRealm_ProviderError(t *testing.T) {
	env := newTestEnv(t)
	p := NewProvisioner(env.client, testLogger())
	sc := env.scope(t, "demo")
	env.kc.FailNext(http.MethodGet, "/admin/realms/demo", http.StatusInternalServerError, 1)

	_, err := p.EnsureRealm(context.Background(), sc, "demo")
	if !errs.IsStatus(err, http.StatusInternalServerError) {
		t.Fatalf("ожидалась ProviderError 500, получено: %v", err)
	}
	if env.kc.HasRealm("demo") {
		t.Error("при ошибке чтения realm не должен создаваться")
	}
}

func TestEnsureClient_MachineToMachineFlags(t *testing.T) {
	env := newTestEnv(t)
	env.kc.AddRealm("demo")
	p := NewProvisioner(env.client, testLogger())
	sc := env.scope(t, "demo")

	client, created, err := p.EnsureClient(context.Background(), sc, ClientSpec{ClientID: "svc1"})
	if err != nil {
		t.Fatalf("Ошибка создания клиента: %v", err)
	}
	if !created {
		t.Error("клиент должен быть создан")
	}
	if !client.Flags.IsMachineToMachine() {
		t.Errorf("ожидались m2m флаги, получено %+v", client.Flags)
	}
	if client.ServiceAccountID == "" {
		t.Error("ожидался ID service account")
	}

	state, ok := env.kc.Client("demo", "svc1")
	if !ok {
		t.Fatal("клиент svc1 не найден в провайдере")
	}
	if state.StandardFlowEnabled || state.ImplicitFlowEnabled || state.DirectAccessGrantsEnabled || state.PublicClient {
		t.Errorf("интерактивные flows должны быть выключены: %+v", state)
	}
	if !state.ServiceAccountsEnabled {
		t.Error("service account должен быть включён")
	}
}

func TestEnsureClient_ExistingIsNoop(t *testing.T) {
	env := newTestEnv(t)
	id := env.kc.AddClient("demo", "svc1", "s")
	p := NewProvisioner(env.client, testLogger())
	sc := env.scope(t, "demo")
	env.kc.ResetRequests()

	client, created, err := p.EnsureClient(context.Background(), sc, ClientSpec{ClientID: "svc1"})
	if err != nil {
		t.Fatalf("Ошибка: %v", err)
	}
	if created || client.ID != id {
		t.Errorf("ожидался существующий клиент %s, получено created=%v id=%s", id, created, client.ID)
	}
	if n := env.kc.CountMutations(); n != 0 {
		t.Errorf("существующий клиент не должен изменяться, изменяющих запросов: %d", n)
	}
}

func TestEnsureClient_CreateOnlyConflict(t *testing.T) {
	env := newTestEnv(t)
	env.kc.AddClient("demo", "svc1", "s")
	p := NewProvisioner(env.client, testLogger())
	sc := env.scope(t, "demo")

	_, _, err := p.EnsureClient(context.Background(), sc, ClientSpec{ClientID: "svc1", CreateOnly: true})
	if !errors.Is(err, errs.ErrConflict) {
		t.Errorf("ожидалась ErrConflict, получено: %v", err)
	}
}

func TestEnsureClient_ConcurrentLeavesOneClient(t *testing.T) {
	env := newTestEnv(t)
	env.kc.AddRealm("demo")
	// Задержка расширяет окно между проверкой и созданием
	env.kc.SetLatency(20 * time.Millisecond)
	p := NewProvisioner(env.client, testLogger())

	scopes := []*admin.Scope{env.scope(t, "demo"), env.scope(t, "demo")}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]bool{}
	)
	for _, sc := range scopes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client, c, err := p.EnsureClient(context.Background(), sc, ClientSpec{ClientID: "svc1"})
			if err != nil {
				t.Errorf("Ошибка создания клиента: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if c {
				created++
			}
			ids[client.ID] = true
		}()
	}
	wg.Wait()

	if n := len(env.kc.Clients("demo", "svc1")); n != 1 {
		t.Fatalf("ожидался ровно 1 клиент svc1, найдено %d", n)
	}
	if created != 1 {
		t.Errorf("ровно один вызов должен сообщить о создании, сообщили %d", created)
	}
	if len(ids) != 1 {
		t.Errorf("оба вызова должны вернуть одного клиента, получено %v", ids)
	}
}

func TestSecretIssuer_RotateTwice(t *testing.T) {
	env := newTestEnv(t)
	id := env.kc.AddClient("demo", "svc1", "initial")
	issuer := NewSecretIssuer(env.client, testLogger())
	sc := env.scope(t, "demo")
	ctx := context.Background()

	s1, err := issuer.Rotate(ctx, sc, id)
	if err != nil {
		t.Fatalf("Ошибка ротации: %v", err)
	}
	s2, err := issuer.Rotate(ctx, sc, id)
	if err != nil {
		t.Fatalf("Ошибка ротации: %v", err)
	}

	if s1.Value == "" || s2.Value == "" || s1.Value == s2.Value {
		t.Fatal("две ротации должны выдать два разных непустых секрета")
	}
	if s2.IssuedAt.Before(s1.IssuedAt) {
		t.Error("IssuedAt второго секрета не может быть раньше первого")
	}

	if code := env.grantStatus(t, "demo", "svc1", s1.Value); code != http.StatusUnauthorized {
		t.Errorf("старый секрет должен быть отклонён, статус %d", code)
	}
	if code := env.grantStatus(t, "demo", "svc1", s2.Value); code != http.StatusOK {
		t.Errorf("новый секрет должен быть принят, статус %d", code)
	}
}

func TestSecretIssuer_UnknownClient(t *testing.T) {
	env := newTestEnv(t)
	env.kc.AddRealm("demo")
	issuer := NewSecretIssuer(env.client, testLogger())

	_, err := issuer.Rotate(context.Background(), env.scope(t, "demo"), "missing-id")
	if !keycloak.IsNotFound(err) {
		t.Errorf("ожидался 404, получено: %v", err)
	}
}

func TestRoleGrants_EnsureRoleIdempotent(t *testing.T) {
	env := newTestEnv(t)
	resourceID := env.kc.AddClient("demo", "local-api", "rs")
	g := NewRoleGrants(env.client, testLogger())
	sc := env.scope(t, "demo")
	ctx := context.Background()

	role, created, err := g.EnsureRole(ctx, sc, resourceID, "access-protected-resource", "Доступ")
	if err != nil {
		t.Fatalf("Ошибка создания роли: %v", err)
	}
	if !created || role.ID == "" {
		t.Errorf("роль должна быть создана с ID, получено created=%v role=%+v", created, role)
	}

	env.kc.ResetRequests()
	again, created, err := g.EnsureRole(ctx, sc, resourceID, "access-protected-resource", "Доступ")
	if err != nil {
		t.Fatalf("Ошибка повторного вызова: %v", err)
	}
	if created || again.ID != role.ID {
		t.Errorf("повторный вызов должен вернуть существующую роль")
	}
	if n := env.kc.CountMutations(); n != 0 {
		t.Errorf("повторный вызов не должен изменять состояние, изменяющих запросов: %d", n)
	}
}

func TestRoleGrants_EnsureRolePropagatesErrors(t *testing.T) {
	env := newTestEnv(t)
	resourceID := env.kc.AddClient("demo", "local-api", "rs")
	g := NewRoleGrants(env.client, testLogger())
	env.kc.FailNext(http.MethodPost, "/roles", http.StatusForbidden, 1)

	_, _, err := g.EnsureRole(context.Background(), env.scope(t, "demo"), resourceID, "reader", "")
	if !errs.IsStatus(err, http.StatusForbidden) {
		t.Errorf("ошибка создания роли должна передаваться вызывающему, получено: %v", err)
	}
}

func TestRoleGrants_BindRole(t *testing.T) {
	env := newTestEnv(t)
	resourceID := env.kc.AddClient("demo", "local-api", "rs")
	svcID := env.kc.AddClient("demo", "svc1", "s")
	g := NewRoleGrants(env.client, testLogger())
	p := NewProvisioner(env.client, testLogger())
	sc := env.scope(t, "demo")
	ctx := context.Background()

	svc, err := p.FindClient(ctx, sc, "svc1")
	if err != nil {
		t.Fatalf("Ошибка поиска клиента: %v", err)
	}
	if svc.ID != svcID {
		t.Fatalf("ожидался ID %s, получен %s", svcID, svc.ID)
	}

	// Роль ещё не создана — явная ошибка, а не пропуск
	_, err = g.BindRole(ctx, sc, svc.ServiceAccountID, resourceID, "reader")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено: %v", err)
	}

	if _, _, err := g.EnsureRole(ctx, sc, resourceID, "reader", ""); err != nil {
		t.Fatalf("Ошибка создания роли: %v", err)
	}

	bound, err := g.BindRole(ctx, sc, svc.ServiceAccountID, resourceID, "reader")
	if err != nil {
		t.Fatalf("Ошибка назначения роли: %v", err)
	}
	if !bound {
		t.Error("роль должна быть назначена")
	}

	env.kc.ResetRequests()
	bound, err = g.BindRole(ctx, sc, svc.ServiceAccountID, resourceID, "reader")
	if err != nil {
		t.Fatalf("Ошибка повторного назначения: %v", err)
	}
	if bound {
		t.Error("повторное назначение не должно создавать связь")
	}
	if n := env.kc.CountMutations(); n != 0 {
		t.Errorf("повторное назначение не должно изменять состояние, изменяющих запросов: %d", n)
	}

	roles := env.kc.UserClientRoles("demo", svc.ServiceAccountID, resourceID)
	if len(roles) != 1 || roles[0] != "reader" {
		t.Errorf("ожидалась роль reader, получено %v", roles)
	}
}

func TestRoleGrants_RetriesAfterExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	resourceID := env.kc.AddClient("demo", "local-api", "rs")
	g := NewRoleGrants(env.client, testLogger())
	sc := env.scope(t, "demo")

	env.kc.ExpireAdminSessions()
	env.kc.ResetRequests()

	_, created, err := g.EnsureRole(context.Background(), sc, resourceID, "reader", "")
	if err != nil {
		t.Fatalf("операция должна пройти после реаутентификации: %v", err)
	}
	if !created {
		t.Error("роль должна быть создана")
	}
	if n := env.kc.CountRequests(http.MethodPost, "/realms/master/protocol/openid-connect/token"); n != 1 {
		t.Errorf("ожидалась 1 реаутентификация, было %d", n)
	}
}

func TestFindClient_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.kc.AddRealm("demo")
	p := NewProvisioner(env.client, testLogger())

	_, err := p.FindClient(context.Background(), env.scope(t, "demo"), "missing")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено: %v", err)
	}
}

func TestMachineToMachineClient(t *testing.T) {
	rep := machineToMachineClient(ClientSpec{ClientID: "svc", Secret: "preset", AuthorizationServices: true})

	if rep.ClientAuthenticatorType != "client-secret" {
		t.Errorf("ожидался client-secret, получен %s", rep.ClientAuthenticatorType)
	}
	if rep.Secret != "preset" || !rep.AuthorizationServicesEnabled {
		t.Errorf("ожидались заданный секрет и authorization services: %+v", rep)
	}
	flags := toModelClient(&rep).Flags
	if flags != model.MachineToMachine() {
		t.Errorf("ожидались m2m флаги, получено %+v", flags)
	}
}
