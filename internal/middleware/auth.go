// Package middleware содержит HTTP middleware сервиса учёта кредитов.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/mmeshcher/lesson-credits/internal/model"
	"github.com/mmeshcher/lesson-credits/internal/service"
	"github.com/mmeshcher/lesson-credits/internal/validation"
)

type contextKey string

const studentKey contextKey = "student"

const (
	adminTokenHeader        = "X-Admin-Token"
	adminTokenEncodedHeader = "X-Admin-Token-Encoded"
	adminTokenQuery         = "adminToken"
	studentTokenQuery       = "t"
)

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// AdminMiddleware пропускает только запросы с корректным токеном администратора.
type AdminMiddleware struct {
	digest []byte
}

// NewAdminMiddleware создаёт проверку токена администратора. С пустым токеном
// административные маршруты закрыты полностью.
func NewAdminMiddleware(token string) *AdminMiddleware {
	a := &AdminMiddleware{}
	if token != "" {
		a.digest = digest(token)
	}
	return a
}

func digest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

// adminToken достаёт токен из заголовка, параметра запроса или URL-кодированного заголовка.
func adminToken(r *http.Request) (string, bool) {
	if token := r.Header.Get(adminTokenHeader); token != "" {
		return token, true
	}
	if token := r.URL.Query().Get(adminTokenQuery); token != "" {
		return token, true
	}
	if encoded := r.Header.Get(adminTokenEncodedHeader); encoded != "" {
		token, err := url.PathUnescape(encoded)
		if err != nil {
			return "", false
		}
		return token, token != ""
	}
	return "", false
}

// Middleware отвечает 403, если токен администратора отсутствует или не совпадает.
func (a *AdminMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := adminToken(r)
		if !ok || a.digest == nil || !hmac.Equal(digest(token), a.digest) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StudentLookup находит ученика по токену.
type StudentLookup interface {
	StudentByToken(ctx context.Context, token string) (*model.Student, error)
}

// StudentMiddleware определяет ученика по токену из параметра t.
type StudentMiddleware struct {
	lookup StudentLookup
}

// NewStudentMiddleware создаёт middleware аутентификации ученика.
func NewStudentMiddleware(lookup StudentLookup) *StudentMiddleware {
	return &StudentMiddleware{lookup: lookup}
}

// Middleware кладёт найденного ученика в контекст запроса.
func (m *StudentMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get(studentTokenQuery)
		if token == "" {
			writeError(w, http.StatusBadRequest, "missing_token")
			return
		}

		if !validation.IsValidStudentToken(token) {
			writeError(w, http.StatusNotFound, "student_not_found")
			return
		}

		student, err := m.lookup.StudentByToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				writeError(w, http.StatusNotFound, "student_not_found")
				return
			}
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}

		ctx := context.WithValue(r.Context(), studentKey, student)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetStudentFromContext извлекает ученика из контекста запроса.
func GetStudentFromContext(ctx context.Context) (*model.Student, bool) {
	st, ok := ctx.Value(studentKey).(*model.Student)
	return st, ok && st != nil
}
