package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"

	"github.com/bigkaa/m2m-trust/internal/domain/errs"
	"github.com/bigkaa/m2m-trust/internal/keycloak"
	"github.com/bigkaa/m2m-trust/internal/keycloak/kctest"
)

const (
	testRealm          = "demo"
	testResourceClient = "local-api"
	testResourceSecret = "resource-secret"
	testRole           = "access-protected-resource"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func introspectPath() string {
	return "/realms/" + testRealm + "/protocol/openid-connect/token/introspect"
}

// setupIntrospection создаёт fake Keycloak с resource-клиентом и клиентом svc1.
func setupIntrospection(t *testing.T) (*kctest.Server, *keycloak.Client) {
	t.Helper()

	kc := kctest.New(t)
	kc.AddClient(testRealm, testResourceClient, testResourceSecret)
	kc.AddClient(testRealm, "svc1", "s1")
	return kc, keycloak.New(kc.URL(), kc.HTTPClient(), testLogger())
}

func defaultConfig() Config {
	return Config{Realm: testRealm, ClientID: testResourceClient, ClientSecret: testResourceSecret}
}

// issueToken получает токен svc1 через client_credentials.
func issueToken(t *testing.T, kc *kctest.Server, clientID, secret string) string {
	t.Helper()

	resp, err := kc.HTTPClient().PostForm(kc.TokenURL(testRealm), map[string][]string{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {secret},
	})
	if err != nil {
		t.Fatalf("Ошибка запроса токена: %v", err)
	}
	defer resp.Body.Close()

	var tr keycloak.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil || tr.AccessToken == "" {
		t.Fatalf("Ошибка декодирования токена: %v (статус %d)", err, resp.StatusCode)
	}
	return tr.AccessToken
}

// grantRole назначает svc1 роль resource-клиента напрямую через Admin API.
func grantRole(t *testing.T, kc *kctest.Server, client *keycloak.Client, role string) {
	t.Helper()
	ctx := context.Background()

	session, err := client.Login(ctx, kctest.AdminClientID, kctest.AdminUser, kctest.AdminPassword)
	if err != nil {
		t.Fatalf("Ошибка входа: %v", err)
	}
	s := session.InRealm(testRealm)

	rc, _ := kc.Client(testRealm, testResourceClient)
	svc, _ := kc.Client(testRealm, "svc1")
	if err := client.CreateClientRole(ctx, s, rc.ID, keycloak.RoleRepresentation{Name: role}); err != nil {
		t.Fatalf("Ошибка создания роли: %v", err)
	}
	roles, err := client.ListClientRoles(ctx, s, rc.ID)
	if err != nil {
		t.Fatalf("Ошибка получения ролей: %v", err)
	}
	if err := client.AddUserClientRoleMappings(ctx, s, svc.ServiceAccountUserID, rc.ID, roles); err != nil {
		t.Fatalf("Ошибка назначения роли: %v", err)
	}
}

func TestValidate_ActiveToken(t *testing.T) {
	kc, client := setupIntrospection(t)
	v := New(client, defaultConfig(), testLogger())

	info, err := v.Validate(context.Background(), issueToken(t, kc, "svc1", "s1"))
	if err != nil {
		t.Fatalf("Ошибка проверки токена: %v", err)
	}
	if !info.Active || info.ClientID != "svc1" {
		t.Errorf("ожидался активный токен svc1, получено %+v", info)
	}
	if !info.HasScope("profile") {
		t.Errorf("ожидался scope profile, получен %q", info.Scope)
	}
	if !info.ExpiresAt.After(time.Now()) {
		t.Error("exp должен быть в будущем")
	}
}

func TestValidate_InactiveIsUnauthorized(t *testing.T) {
	kc, client := setupIntrospection(t)
	v := New(client, defaultConfig(), testLogger())
	token := issueToken(t, kc, "svc1", "s1")
	kc.RevokeTokens()

	tests := []struct {
		name  string
		token string
	}{
		{"отозванный", token},
		{"произвольная строка", "not-a-token"},
		{"пустой", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tt.token)
			if !errors.Is(err, errs.ErrTokenInvalid) {
				t.Fatalf("ожидалась ErrTokenInvalid, получено: %v", err)
			}
			if errs.Kind(err) != errs.KindUnauthorized {
				t.Errorf("ожидался код %s, получен %s", errs.KindUnauthorized, errs.Kind(err))
			}
		})
	}
}

func TestValidate_UnavailableIsServiceError(t *testing.T) {
	tests := []struct {
		name  string
		setup func(kc *kctest.Server)
	}{
		{"endpoint недоступен", func(kc *kctest.Server) { kc.Close() }},
		{"ответ 500", func(kc *kctest.Server) {
			kc.FailNext(http.MethodPost, introspectPath(), http.StatusInternalServerError, 1)
		}},
		{"ответ 503", func(kc *kctest.Server) {
			kc.FailNext(http.MethodPost, introspectPath(), http.StatusServiceUnavailable, 1)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kc, client := setupIntrospection(t)
			v := New(client, defaultConfig(), testLogger())
			token := issueToken(t, kc, "svc1", "s1")
			tt.setup(kc)

			info, err := v.Validate(context.Background(), token)
			if err == nil {
				t.Fatal("недоступность интроспекции не должна авторизовывать запрос")
			}
			if info != nil {
				t.Error("при ошибке результат должен быть nil")
			}
			if errors.Is(err, errs.ErrTokenInvalid) {
				t.Error("недоступность интроспекции не должна трактоваться как невалидный токен")
			}
			if !errors.Is(err, errs.ErrProvider) {
				t.Errorf("ожидалась ErrProvider, получено: %v", err)
			}
		})
	}
}

func TestValidate_WrongResourceSecretIsServiceError(t *testing.T) {
	kc, client := setupIntrospection(t)
	cfg := defaultConfig()
	cfg.ClientSecret = "wrong"
	v := New(client, cfg, testLogger())

	_, err := v.Validate(context.Background(), issueToken(t, kc, "svc1", "s1"))
	if errs.Kind(err) != errs.KindIDPUnavailable {
		t.Errorf("ожидался код %s, получен %s (%v)", errs.KindIDPUnavailable, errs.Kind(err), err)
	}
}

func TestValidate_RequiredRole(t *testing.T) {
	kc, client := setupIntrospection(t)
	cfg := defaultConfig()
	cfg.RequiredRole = testRole
	v := New(client, cfg, testLogger())

	_, err := v.Validate(context.Background(), issueToken(t, kc, "svc1", "s1"))
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("без роли ожидалась ErrForbidden, получено: %v", err)
	}

	grantRole(t, kc, client, testRole)

	info, err := v.Validate(context.Background(), issueToken(t, kc, "svc1", "s1"))
	if err != nil {
		t.Fatalf("с ролью токен должен проходить: %v", err)
	}
	if !info.HasClientRole(testResourceClient, testRole) {
		t.Errorf("ожидалась роль %s, получено %v", testRole, info.ResourceRoles)
	}
}

func TestValidate_Cache(t *testing.T) {
	kc, client := setupIntrospection(t)
	cfg := defaultConfig()
	cfg.CacheTTL = time.Minute
	v := New(client, cfg, testLogger())
	token := issueToken(t, kc, "svc1", "s1")
	ctx := context.Background()

	for range 3 {
		if _, err := v.Validate(ctx, token); err != nil {
			t.Fatalf("Ошибка проверки токена: %v", err)
		}
	}
	if n := kc.CountRequests(http.MethodPost, introspectPath()); n != 1 {
		t.Errorf("ожидалась 1 интроспекция, было %d", n)
	}

	// Истёкший по exp результат из кэша не используется
	v.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := v.Validate(ctx, token); err != nil {
		t.Fatalf("Ошибка проверки токена: %v", err)
	}
	if n := kc.CountRequests(http.MethodPost, introspectPath()); n != 2 {
		t.Errorf("истёкший результат должен перепроверяться, интроспекций %d", n)
	}
}

func TestValidate_SignatureCheck(t *testing.T) {
	kc, client := setupIntrospection(t)

	resp, err := kc.HTTPClient().Get(kc.URL() + "/realms/" + testRealm + "/protocol/openid-connect/certs")
	if err != nil {
		t.Fatalf("Ошибка получения JWKS: %v", err)
	}
	jwksJSON, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	kf, err := keyfunc.NewJWKSetJSON(jwksJSON)
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}

	v := New(client, defaultConfig(), testLogger(), WithSignatureCheck(kf.Keyfunc, kc.Issuer(testRealm), time.Second))

	if _, err := v.Validate(context.Background(), issueToken(t, kc, "svc1", "s1")); err != nil {
		t.Fatalf("подписанный провайдером токен должен проходить: %v", err)
	}

	kc.ResetRequests()
	_, err = v.Validate(context.Background(), "eyJhbGciOiJub25lIn0.eyJzdWIiOiJ4In0.")
	if !errors.Is(err, errs.ErrTokenInvalid) {
		t.Fatalf("ожидалась ErrTokenInvalid, получено: %v", err)
	}
	if n := kc.CountRequests(http.MethodPost, introspectPath()); n != 0 {
		t.Errorf("токен с неверной подписью не должен отправляться на интроспекцию, запросов %d", n)
	}
}

func TestNewJWKSKeyfunc(t *testing.T) {
	kc, client := setupIntrospection(t)

	kf, err := NewJWKSKeyfunc(kc.URL()+"/realms/"+testRealm+"/protocol/openid-connect/certs", kc.HTTPClient(), time.Minute, testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания keyfunc: %v", err)
	}

	v := New(client, defaultConfig(), testLogger(), WithSignatureCheck(kf.Keyfunc, kc.Issuer(testRealm), time.Second))
	if _, err := v.Validate(context.Background(), issueToken(t, kc, "svc1", "s1")); err != nil {
		t.Errorf("токен должен проходить проверку подписи по JWKS: %v", err)
	}
}
