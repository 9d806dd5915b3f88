// openapi.go — валидация входящих запросов по OpenAPI-контракту (kin-openapi).
// Ошибка валидации отдаётся как 400 VALIDATION_ERROR; значения полей
// в сообщение не попадают (тело может содержать секрет).
package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	apierrors "github.com/bigkaa/m2m-trust/internal/api/errors"
)

// maxValidationBodySize — предел тела, читаемого для валидации.
const maxValidationBodySize = 64 << 10

// OpenAPIValidator возвращает middleware, проверяющий параметры и тело запроса
// по doc. Запросы вне контракта пропускаются: их обрабатывает роутер (404/405).
// Аутентификацию выполняют JWTAuth/BearerAuth, здесь она не проверяется.
func OpenAPIValidator(doc *openapi3.T) (func(http.Handler) http.Handler, error) {
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("создание роутера OpenAPI: %w", err)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := validateRequest(router, r); err != nil {
				if errors.Is(err, routers.ErrPathNotFound) || errors.Is(err, routers.ErrMethodNotAllowed) {
					next.ServeHTTP(w, r)
					return
				}
				apierrors.ValidationError(w, validationMessage(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

func validateRequest(router routers.Router, r *http.Request) error {
	route, pathParams, err := router.FindRoute(r)
	if err != nil {
		return err
	}

	// Тело перечитывается обработчиком после валидации
	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxValidationBodySize))
		if err != nil {
			return &openapi3filter.RequestError{Reason: "не удалось прочитать тело запроса"}
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	return openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	})
}

// validationMessage формирует сообщение без значений из запроса.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if !errors.As(err, &reqErr) {
		return "запрос не соответствует контракту API"
	}

	where := "запрос"
	switch {
	case reqErr.Parameter != nil:
		where = fmt.Sprintf("параметр %s", reqErr.Parameter.Name)
	case reqErr.RequestBody != nil:
		where = "тело запроса"
	}

	var schemaErr *openapi3.SchemaError
	if errors.As(reqErr.Err, &schemaErr) {
		if ptr := schemaErr.JSONPointer(); len(ptr) > 0 {
			return fmt.Sprintf("%s: поле %s: %s", where, strings.Join(ptr, "."), schemaErr.Reason)
		}
		return fmt.Sprintf("%s: %s", where, schemaErr.Reason)
	}
	if errors.Is(reqErr.Err, openapi3filter.ErrInvalidRequired) {
		return fmt.Sprintf("%s: обязательное значение отсутствует", where)
	}
	if reqErr.Reason != "" {
		return fmt.Sprintf("%s: %s", where, reqErr.Reason)
	}
	return fmt.Sprintf("%s: некорректное значение", where)
}
