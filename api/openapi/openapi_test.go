package openapi

import (
	"slices"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
)

// schemeOf возвращает единственную схему безопасности операции или "".
func schemeOf(op *openapi3.Operation) string {
	if op.Security == nil || len(*op.Security) == 0 {
		return ""
	}
	for name := range (*op.Security)[0] {
		return name
	}
	return ""
}

func TestBroker(t *testing.T) {
	doc, err := Broker()
	if err != nil {
		t.Fatalf("Ошибка загрузки спецификации: %v", err)
	}

	want := map[string]string{
		"healthLive":           "",
		"healthReady":          "",
		"getMetrics":           "",
		"getStatus":            "",
		"getProviderConfig":    "",
		"initRealm":            "adminAuth",
		"listClients":          "adminAuth",
		"createClient":         "adminAuth",
		"rotateClientSecret":   "adminAuth",
		"getProtectedResource": "resourceAuth",
	}

	seen := make(map[string]bool)
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			scheme, known := want[op.OperationID]
			if !known {
				t.Errorf("%s %s: неизвестная операция %q", method, path, op.OperationID)
				continue
			}
			seen[op.OperationID] = true
			if got := schemeOf(op); got != scheme {
				t.Errorf("%s: схема безопасности %q, ожидалась %q", op.OperationID, got, scheme)
			}
		}
	}
	for id := range want {
		if !seen[id] {
			t.Errorf("операция %q отсутствует в спецификации", id)
		}
	}

	for _, name := range []string{"adminAuth", "resourceAuth"} {
		if doc.Components.SecuritySchemes[name] == nil {
			t.Errorf("схема безопасности %q не описана", name)
		}
	}
}

func TestConsumer(t *testing.T) {
	doc, err := Consumer()
	if err != nil {
		t.Fatalf("Ошибка загрузки спецификации: %v", err)
	}

	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if scheme := schemeOf(op); scheme != "" {
				t.Errorf("%s %s: API потребителя не требует аутентификации, указана %q", method, path, scheme)
			}
		}
	}

	post := doc.Paths.Find("/api/v1/credentials").Post
	if post == nil || post.RequestBody == nil {
		t.Fatal("POST /api/v1/credentials должен принимать тело")
	}
	schema := post.RequestBody.Value.Content.Get("application/json").Schema.Value
	for _, field := range []string{"clientId", "clientSecret", "tokenUrl"} {
		if !slices.Contains(schema.Required, field) {
			t.Errorf("поле %s учётных данных должно быть обязательным", field)
		}
	}
}
