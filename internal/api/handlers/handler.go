// handler.go — общие помощники обработчиков API.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apierrors "github.com/bigkaa/m2m-trust/internal/api/errors"
)

// maxBodyBytes — ограничение размера тела JSON-запроса.
const maxBodyBytes = 64 << 10

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeSecretJSON записывает ответ, содержащий секрет: такой ответ не кэшируется.
func writeSecretJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, status, data)
}

// decodeJSON читает тело запроса в dst. Пустое тело допустимо.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return fmt.Errorf("некорректный JSON: %w", err)
	}
	return nil
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit (1..1000, по умолчанию 100) и offset (>= 0).
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = min(max(*limit, 1), 1000)
	}
	if offset != nil {
		o = max(*offset, 0)
	}
	return l, o
}

// ParamError — ErrorHandlerFunc сгенерированных роутеров: ошибка разбора
// параметров пути и query отдаётся как 400 в едином формате.
func ParamError(w http.ResponseWriter, _ *http.Request, err error) {
	apierrors.ValidationError(w, err.Error())
}
