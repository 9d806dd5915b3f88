// Пакет kctest — in-memory имитация Keycloak для тестов.
// Поддерживает подмножество Admin REST API (realms, clients, client secret,
// service account user, client roles, client role mappings) и OIDC endpoints
// (password и client_credentials grant, introspection, JWKS).
// Access-токены — настоящие RS256 JWT, подписанные ключом сервера.
package kctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Учётные данные администратора master realm по умолчанию.
const (
	AdminUser     = "admin"
	AdminPassword = "admin"
	AdminClientID = "admin-cli"
)

// keyID — kid ключа подписи.
const keyID = "kctest-rs256"

// Request — запись о запросе к серверу.
type Request struct {
	Method string
	Path   string
}

// ClientState — снимок состояния клиента.
type ClientState struct {
	ID                           string
	ClientID                     string
	Secret                       string
	Enabled                      bool
	ServiceAccountsEnabled       bool
	StandardFlowEnabled          bool
	ImplicitFlowEnabled          bool
	DirectAccessGrantsEnabled    bool
	PublicClient                 bool
	AuthorizationServicesEnabled bool
	ServiceAccountUserID         string
	Roles                        []string
}

type failRule struct {
	method    string
	fragment  string
	status    int
	remaining int
}

type role struct {
	id          string
	name        string
	description string
}

type client struct {
	ClientState
	roles map[string]*role // по имени
}

type user struct {
	id       string
	username string
	// clientRoles: внутренний ID клиента → имена ролей
	clientRoles map[string]map[string]bool
}

type realm struct {
	name    string
	enabled bool
	clients map[string]*client // по внутреннему ID
	users   map[string]*user
}

type issuedToken struct {
	realm     string
	clientID  string
	userID    string
	username  string
	scope     string
	issuedAt  time.Time
	expiresAt time.Time
	roles     map[string][]string
}

// Server — имитация Keycloak поверх httptest.Server.
type Server struct {
	srv *httptest.Server
	key *rsa.PrivateKey

	mu             sync.Mutex
	realms         map[string]*realm
	adminTokens    map[string]time.Time
	tokens         map[string]*issuedToken
	requests       []Request
	rules          []*failRule
	latency        time.Duration
	adminTokenTTL  time.Duration
	accessTokenTTL time.Duration
	omitScope      bool
	tokenScope     string
}

// New запускает сервер; остановка — через t.Cleanup.
func New(t testing.TB) *Server {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("kctest: генерация ключа: %v", err)
	}

	s := &Server{
		key:            key,
		realms:         map[string]*realm{"master": newRealm("master")},
		adminTokens:    make(map[string]time.Time),
		tokens:         make(map[string]*issuedToken),
		adminTokenTTL:  60 * time.Second,
		accessTokenTTL: 300 * time.Second,
		tokenScope:     "profile email",
	}

	s.srv = httptest.NewServer(s.routes())
	t.Cleanup(s.srv.Close)
	return s
}

func newRealm(name string) *realm {
	return &realm{
		name:    name,
		enabled: true,
		clients: make(map[string]*client),
		users:   make(map[string]*user),
	}
}

// URL возвращает базовый URL сервера.
func (s *Server) URL() string { return s.srv.URL }

// HTTPClient возвращает HTTP-клиент сервера.
func (s *Server) HTTPClient() *http.Client { return s.srv.Client() }

// Close останавливает сервер досрочно (имитация недоступности).
func (s *Server) Close() { s.srv.Close() }

// TokenURL возвращает token endpoint realm.
func (s *Server) TokenURL(realm string) string {
	return s.srv.URL + "/realms/" + realm + "/protocol/openid-connect/token"
}

// Issuer возвращает issuer токенов realm.
func (s *Server) Issuer(realm string) string {
	return s.srv.URL + "/realms/" + realm
}

// --- Настройка поведения ---

// FailNext заставляет следующие times запросов method, путь которых
// содержит fragment, завершиться со статусом status.
func (s *Server) FailNext(method, fragment string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, &failRule{method: method, fragment: fragment, status: status, remaining: times})
}

// SetLatency задаёт задержку обработки каждого запроса.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// SetAccessTokenTTL задаёт expires_in выдаваемых access-токенов.
func (s *Server) SetAccessTokenTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokenTTL = d
}

// SetAdminTokenTTL задаёт время жизни административных токенов.
func (s *Server) SetAdminTokenTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminTokenTTL = d
}

// OmitScopeInTokenResponse убирает поле scope из ответа token endpoint
// (scope остаётся только в claims JWT).
func (s *Server) OmitScopeInTokenResponse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitScope = true
}

// ExpireAdminSessions делает все выданные административные токены недействительными.
func (s *Server) ExpireAdminSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.adminTokens)
}

// RevokeTokens отзывает все выданные access-токены.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.tokens)
}

// --- Наполнение состояния ---

// AddRealm создаёт realm напрямую.
func (s *Server) AddRealm(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.realms[name]; !ok {
		s.realms[name] = newRealm(name)
	}
}

// AddClient создаёт confidential клиента с service account и возвращает его внутренний ID.
// Realm создаётся при необходимости.
func (s *Server) AddClient(realmName, clientID, secret string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.realms[realmName]
	if !ok {
		r = newRealm(realmName)
		s.realms[realmName] = r
	}
	c := s.createClientLocked(r, clientRepresentation{
		ClientID:               clientID,
		Secret:                 secret,
		Enabled:                true,
		ServiceAccountsEnabled: true,
	})
	return c.ID
}

// GrantClientRole назначает service account клиента clientID роль role
// клиента ownerClientID. Роль создаётся при необходимости. Клиенты должны существовать.
func (s *Server) GrantClientRole(realmName, clientID, ownerClientID, roleName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.realms[realmName]
	var sa, owner *client
	for _, c := range r.clients {
		switch c.ClientID {
		case clientID:
			sa = c
		case ownerClientID:
			owner = c
		}
	}
	if clientID == ownerClientID {
		owner = sa
	}
	if _, ok := owner.roles[roleName]; !ok {
		owner.roles[roleName] = &role{id: uuid.NewString(), name: roleName}
	}
	u := r.users[sa.ServiceAccountUserID]
	if u.clientRoles[owner.ID] == nil {
		u.clientRoles[owner.ID] = make(map[string]bool)
	}
	u.clientRoles[owner.ID][roleName] = true
}

// ClientToken выпускает access token клиента через client_credentials.
func (s *Server) ClientToken(t testing.TB, realmName, clientID, secret string) string {
	t.Helper()

	resp, err := s.HTTPClient().PostForm(s.TokenURL(realmName), url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {secret},
	})
	if err != nil {
		t.Fatalf("Ошибка запроса токена: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		t.Fatalf("Токен не выдан: статус %d, ошибка %v", resp.StatusCode, err)
	}
	return body.AccessToken
}

// --- Инспекция состояния ---

// HasRealm проверяет существование realm.
func (s *Server) HasRealm(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.realms[name]
	return ok
}

// Clients возвращает всех клиентов realm с указанным clientId.
func (s *Server) Clients(realmName, clientID string) []ClientState {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.realms[realmName]
	if !ok {
		return nil
	}
	var out []ClientState
	for _, c := range r.clients {
		if c.ClientID == clientID {
			out = append(out, c.snapshot())
		}
	}
	return out
}

// Client возвращает клиента realm по clientId.
func (s *Server) Client(realmName, clientID string) (ClientState, bool) {
	clients := s.Clients(realmName, clientID)
	if len(clients) == 0 {
		return ClientState{}, false
	}
	return clients[0], true
}

// UserClientRoles возвращает роли клиента clientInternalID, назначенные пользователю.
func (s *Server) UserClientRoles(realmName, userID, clientInternalID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.realms[realmName]
	if !ok {
		return nil
	}
	u, ok := r.users[userID]
	if !ok {
		return nil
	}
	return sortedKeys(u.clientRoles[clientInternalID])
}

// Requests возвращает журнал запросов.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// ResetRequests очищает журнал запросов.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// CountRequests считает запросы method с путём, начинающимся с prefix.
// Пустой method — любой метод.
func (s *Server) CountRequests(method, prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.requests {
		if (method == "" || r.Method == method) && strings.HasPrefix(r.Path, prefix) {
			n++
		}
	}
	return n
}

// CountMutations считает изменяющие запросы к Admin REST API.
func (s *Server) CountMutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.requests {
		if r.Method != http.MethodGet && strings.HasPrefix(r.Path, "/admin/") {
			n++
		}
	}
	return n
}

// CountGrants считает запросы client_credentials к token endpoint realm.
func (s *Server) CountGrants(realmName string) int {
	return s.CountRequests(http.MethodPost, "/realms/"+realmName+"/protocol/openid-connect/token")
}

func (c *client) snapshot() ClientState {
	st := c.ClientState
	st.Roles = make([]string, 0, len(c.roles))
	for name := range c.roles {
		st.Roles = append(st.Roles, name)
	}
	sort.Strings(st.Roles)
	return st
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// --- HTTP ---

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /realms/{realm}/protocol/openid-connect/token", s.handleToken)
	mux.HandleFunc("POST /realms/{realm}/protocol/openid-connect/token/introspect", s.handleIntrospect)
	mux.HandleFunc("GET /realms/{realm}/protocol/openid-connect/certs", s.handleCerts)
	mux.HandleFunc("GET /realms/{realm}", s.handlePublicRealm)

	admin := http.NewServeMux()
	admin.HandleFunc("POST /admin/realms", s.handleCreateRealm)
	admin.HandleFunc("GET /admin/realms/{realm}", s.handleGetRealm)
	admin.HandleFunc("GET /admin/realms/{realm}/clients", s.handleFindClients)
	admin.HandleFunc("POST /admin/realms/{realm}/clients", s.handleCreateClient)
	admin.HandleFunc("POST /admin/realms/{realm}/clients/{id}/client-secret", s.handleRegenerateSecret)
	admin.HandleFunc("GET /admin/realms/{realm}/clients/{id}/client-secret", s.handleGetSecret)
	admin.HandleFunc("GET /admin/realms/{realm}/clients/{id}/service-account-user", s.handleServiceAccountUser)
	admin.HandleFunc("GET /admin/realms/{realm}/clients/{id}/roles", s.handleListRoles)
	admin.HandleFunc("POST /admin/realms/{realm}/clients/{id}/roles", s.handleCreateRole)
	admin.HandleFunc("GET /admin/realms/{realm}/users/{user}/role-mappings/clients/{id}", s.handleListMappings)
	admin.HandleFunc("POST /admin/realms/{realm}/users/{user}/role-mappings/clients/{id}", s.handleAddMappings)
	mux.Handle("/admin/", s.requireAdmin(admin))

	return s.intercept(mux)
}

// intercept ведёт журнал запросов, применяет задержку и правила отказов.
func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path})
		latency := s.latency
		status := 0
		for _, rule := range s.rules {
			if rule.remaining > 0 && rule.method == r.Method && strings.Contains(r.URL.Path, rule.fragment) {
				rule.remaining--
				status = rule.status
				break
			}
		}
		s.mu.Unlock()

		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			writeJSON(w, status, map[string]string{"error": "injected failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		exp, found := s.adminTokens[token]
		s.mu.Unlock()

		if !ok || !found || time.Now().After(exp) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "HTTP 401 Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func oauthError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": desc})
}

// --- OIDC ---

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", "malformed form")
		return
	}
	realmName := r.PathValue("realm")

	switch r.PostForm.Get("grant_type") {
	case "password":
		s.passwordGrant(w, r, realmName)
	case "client_credentials":
		s.clientCredentialsGrant(w, r, realmName)
	default:
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type", "Unsupported grant_type")
	}
}

func (s *Server) passwordGrant(w http.ResponseWriter, r *http.Request, realmName string) {
	if realmName != "master" || r.PostForm.Get("client_id") != AdminClientID {
		oauthError(w, http.StatusUnauthorized, "invalid_client", "Invalid client or Invalid client credentials")
		return
	}
	if r.PostForm.Get("username") != AdminUser || r.PostForm.Get("password") != AdminPassword {
		oauthError(w, http.StatusUnauthorized, "invalid_grant", "Invalid user credentials")
		return
	}

	token := "adm-" + uuid.NewString()
	s.mu.Lock()
	ttl := s.adminTokenTTL
	s.adminTokens[token] = time.Now().Add(ttl)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(ttl.Seconds()),
	})
}

// clientCredentials извлекает client_id/client_secret из формы или Basic auth.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}

// authenticateClient находит клиента realm по учётным данным (под s.mu).
func (s *Server) authenticateClientLocked(realmName, clientID, secret string) (*realm, *client) {
	rl, ok := s.realms[realmName]
	if !ok {
		return nil, nil
	}
	for _, c := range rl.clients {
		if c.ClientID == clientID && c.Secret != "" && c.Secret == secret && c.Enabled {
			return rl, c
		}
	}
	return rl, nil
}

func (s *Server) clientCredentialsGrant(w http.ResponseWriter, r *http.Request, realmName string) {
	clientID, secret := clientCredentials(r)

	s.mu.Lock()
	rl, c := s.authenticateClientLocked(realmName, clientID, secret)
	if c == nil || !c.ServiceAccountsEnabled {
		s.mu.Unlock()
		if rl == nil {
			oauthError(w, http.StatusNotFound, "invalid_request", "Realm does not exist")
			return
		}
		oauthError(w, http.StatusUnauthorized, "invalid_client", "Invalid client or Invalid client credentials")
		return
	}

	u := rl.users[c.ServiceAccountUserID]
	roles := make(map[string][]string)
	for internalID, names := range u.clientRoles {
		if owner, ok := rl.clients[internalID]; ok && len(names) > 0 {
			roles[owner.ClientID] = sortedKeys(names)
		}
	}
	now := time.Now()
	it := &issuedToken{
		realm:     realmName,
		clientID:  c.ClientID,
		userID:    u.id,
		username:  u.username,
		scope:     s.tokenScope,
		issuedAt:  now,
		expiresAt: now.Add(s.accessTokenTTL),
		roles:     roles,
	}
	omitScope := s.omitScope
	s.mu.Unlock()

	token, err := s.sign(it)
	if err != nil {
		oauthError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	s.mu.Lock()
	s.tokens[token] = it
	s.mu.Unlock()

	resp := map[string]any{
		"access_token":       token,
		"token_type":         "Bearer",
		"expires_in":         int(it.expiresAt.Sub(now).Seconds()),
		"refresh_expires_in": 0,
		"not-before-policy":  0,
	}
	if !omitScope {
		resp["scope"] = it.scope
	}
	writeJSON(w, http.StatusOK, resp)
}

func (it *issuedToken) resourceAccess() map[string]any {
	ra := make(map[string]any, len(it.roles))
	for clientID, roles := range it.roles {
		ra[clientID] = map[string]any{"roles": roles}
	}
	return ra
}

func (s *Server) sign(it *issuedToken) (string, error) {
	claims := jwt.MapClaims{
		"iss":                s.Issuer(it.realm),
		"sub":                it.userID,
		"azp":                it.clientID,
		"client_id":          it.clientID,
		"typ":                "Bearer",
		"scope":              it.scope,
		"preferred_username": it.username,
		"jti":                uuid.NewString(),
		"iat":                jwt.NewNumericDate(it.issuedAt),
		"exp":                jwt.NewNumericDate(it.expiresAt),
		"resource_access":    it.resourceAccess(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	return token.SignedString(s.key)
}

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", "malformed form")
		return
	}
	realmName := r.PathValue("realm")
	clientID, secret := clientCredentials(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, c := s.authenticateClientLocked(realmName, clientID, secret); c == nil {
		oauthError(w, http.StatusUnauthorized, "invalid_client", "Authentication failed.")
		return
	}

	it, ok := s.tokens[r.PostForm.Get("token")]
	if !ok || it.realm != realmName || time.Now().After(it.expiresAt) {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active":          true,
		"client_id":       it.clientID,
		"azp":             it.clientID,
		"sub":             it.userID,
		"username":        it.username,
		"scope":           it.scope,
		"token_type":      "Bearer",
		"exp":             it.expiresAt.Unix(),
		"iat":             it.issuedAt.Unix(),
		"resource_access": it.resourceAccess(),
	})
}

func (s *Server) handleCerts(w http.ResponseWriter, _ *http.Request) {
	pub := &s.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": keyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (s *Server) handlePublicRealm(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("realm")
	if !s.HasRealm(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Realm does not exist"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"realm":         name,
		"token-service": s.Issuer(name) + "/protocol/openid-connect",
	})
}

// --- Admin REST API ---

type clientRepresentation struct {
	ID                           string `json:"id,omitempty"`
	ClientID                     string `json:"clientId"`
	Secret                       string `json:"secret,omitempty"`
	Enabled                      bool   `json:"enabled"`
	ServiceAccountsEnabled       bool   `json:"serviceAccountsEnabled"`
	AuthorizationServicesEnabled bool   `json:"authorizationServicesEnabled"`
	StandardFlowEnabled          bool   `json:"standardFlowEnabled"`
	ImplicitFlowEnabled          bool   `json:"implicitFlowEnabled"`
	DirectAccessGrantsEnabled    bool   `json:"directAccessGrantsEnabled"`
	PublicClient                 bool   `json:"publicClient"`
}

type roleRepresentation struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ClientRole  bool   `json:"clientRole"`
	ContainerID string `json:"containerId,omitempty"`
}

func (c *client) representation() clientRepresentation {
	return clientRepresentation{
		ID:                           c.ID,
		ClientID:                     c.ClientID,
		Enabled:                      c.Enabled,
		ServiceAccountsEnabled:       c.ServiceAccountsEnabled,
		AuthorizationServicesEnabled: c.AuthorizationServicesEnabled,
		StandardFlowEnabled:          c.StandardFlowEnabled,
		ImplicitFlowEnabled:          c.ImplicitFlowEnabled,
		DirectAccessGrantsEnabled:    c.DirectAccessGrantsEnabled,
		PublicClient:                 c.PublicClient,
	}
}

func (r *role) representation(containerID string) roleRepresentation {
	return roleRepresentation{ID: r.id, Name: r.name, Description: r.description, ClientRole: true, ContainerID: containerID}
}

// lookup находит realm и (если задан id) клиента; пишет 404 при отсутствии (под s.mu).
func (s *Server) lookupLocked(w http.ResponseWriter, r *http.Request, withClient bool) (*realm, *client, bool) {
	rl, ok := s.realms[r.PathValue("realm")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Realm not found."})
		return nil, nil, false
	}
	if !withClient {
		return rl, nil, true
	}
	c, ok := rl.clients[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Could not find client"})
		return nil, nil, false
	}
	return rl, c, true
}

func (s *Server) handleCreateRealm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Realm   string `json:"realm"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Realm == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "invalid realm representation"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.realms[body.Realm]; ok {
		writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "Conflict detected. See logs for details"})
		return
	}
	rl := newRealm(body.Realm)
	rl.enabled = body.Enabled
	s.realms[body.Realm] = rl
	w.Header().Set("Location", s.srv.URL+"/admin/realms/"+body.Realm)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGetRealm(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rl, _, ok := s.lookupLocked(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": rl.name, "realm": rl.name, "enabled": rl.enabled})
}

func (s *Server) handleFindClients(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rl, _, ok := s.lookupLocked(w, r, false)
	if !ok {
		return
	}
	want := r.URL.Query().Get("clientId")
	out := []clientRepresentation{}
	for _, c := range rl.clients {
		if want == "" || c.ClientID == want {
			out = append(out, c.representation())
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var body clientRepresentation
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ClientID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "invalid client representation"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rl, _, ok := s.lookupLocked(w, r, false)
	if !ok {
		return
	}
	for _, c := range rl.clients {
		if c.ClientID == body.ClientID {
			writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "Client " + body.ClientID + " already exists"})
			return
		}
	}
	c := s.createClientLocked(rl, body)
	w.Header().Set("Location", s.srv.URL+"/admin/realms/"+rl.name+"/clients/"+c.ID)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) createClientLocked(rl *realm, body clientRepresentation) *client {
	c := &client{
		ClientState: ClientState{
			ID:                           uuid.NewString(),
			ClientID:                     body.ClientID,
			Secret:                       body.Secret,
			Enabled:                      body.Enabled,
			ServiceAccountsEnabled:       body.ServiceAccountsEnabled,
			StandardFlowEnabled:          body.StandardFlowEnabled,
			ImplicitFlowEnabled:          body.ImplicitFlowEnabled,
			DirectAccessGrantsEnabled:    body.DirectAccessGrantsEnabled,
			PublicClient:                 body.PublicClient,
			AuthorizationServicesEnabled: body.AuthorizationServicesEnabled,
		},
		roles: make(map[string]*role),
	}
	if c.Secret == "" && !c.PublicClient {
		c.Secret = randomSecret()
	}
	if c.ServiceAccountsEnabled {
		u := &user{
			id:          uuid.NewString(),
			username:    "service-account-" + strings.ToLower(c.ClientID),
			clientRoles: make(map[string]map[string]bool),
		}
		rl.users[u.id] = u
		c.ServiceAccountUserID = u.id
	}
	rl.clients[c.ID] = c
	return c
}

func randomSecret() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func (s *Server) handleRegenerateSecret(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, c, ok := s.lookupLocked(w, r, true)
	if !ok {
		return
	}
	c.Secret = randomSecret()
	writeJSON(w, http.StatusOK, map[string]string{"type": "secret", "value": c.Secret})
}

func (s *Server) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, c, ok := s.lookupLocked(w, r, true)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"type": "secret", "value": c.Secret})
}

func (s *Server) handleServiceAccountUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rl, c, ok := s.lookupLocked(w, r, true)
	if !ok {
		return
	}
	u, found := rl.users[c.ServiceAccountUserID]
	if !found {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Service account not enabled for the client '" + c.ClientID + "'"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": u.id, "username": u.username, "enabled": true})
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, c, ok := s.lookupLocked(w, r, true)
	if !ok {
		return
	}
	out := make([]roleRepresentation, 0, len(c.roles))
	for _, name := range sortedRoleNames(c.roles) {
		out = append(out, c.roles[name].representation(c.ID))
	}
	writeJSON(w, http.StatusOK, out)
}

func sortedRoleNames(roles map[string]*role) []string {
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var body roleRepresentation
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "invalid role representation"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, c, ok := s.lookupLocked(w, r, true)
	if !ok {
		return
	}
	if _, exists := c.roles[body.Name]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "Role with name " + body.Name + " already exists"})
		return
	}
	c.roles[body.Name] = &role{id: uuid.NewString(), name: body.Name, description: body.Description}
	w.Header().Set("Location", fmt.Sprintf("%s/admin/realms/%s/clients/%s/roles/%s", s.srv.URL, r.PathValue("realm"), c.ID, body.Name))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) userLocked(w http.ResponseWriter, rl *realm, id string) (*user, bool) {
	u, ok := rl.users[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return nil, false
	}
	return u, true
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rl, c, ok := s.lookupLocked(w, r, true)
	if !ok {
		return
	}
	u, ok := s.userLocked(w, rl, r.PathValue("user"))
	if !ok {
		return
	}
	out := []roleRepresentation{}
	for _, name := range sortedKeys(u.clientRoles[c.ID]) {
		if ro, exists := c.roles[name]; exists {
			out = append(out, ro.representation(c.ID))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddMappings(w http.ResponseWriter, r *http.Request) {
	var body []roleRepresentation
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "invalid role list"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rl, c, ok := s.lookupLocked(w, r, true)
	if !ok {
		return
	}
	u, ok := s.userLocked(w, rl, r.PathValue("user"))
	if !ok {
		return
	}
	for _, rr := range body {
		ro, exists := c.roles[rr.Name]
		if !exists || (rr.ID != "" && rr.ID != ro.id) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Role not found"})
			return
		}
	}
	if u.clientRoles[c.ID] == nil {
		u.clientRoles[c.ID] = make(map[string]bool)
	}
	for _, rr := range body {
		u.clientRoles[c.ID][rr.Name] = true
	}
	w.WriteHeader(http.StatusNoContent)
}
