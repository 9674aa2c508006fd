package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	HeaderOwnerID        = "X-Owner-ID"
	HeaderOwnerSignature = "X-Owner-Signature"
)

type ownerKey struct{}

// OwnerAuthMiddleware кладёт владельца из X-Owner-ID в контекст.
// Если secret задан, заголовок X-Owner-Signature должен содержать hex(HMAC-SHA256(secret, owner)).
func OwnerAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := strings.TrimSpace(r.Header.Get(HeaderOwnerID))
			if owner == "" {
				WriteError(w, http.StatusUnauthorized, "не указан владелец")
				return
			}
			if len(key) > 0 && !validSignature(owner, r.Header.Get(HeaderOwnerSignature), key) {
				WriteError(w, http.StatusUnauthorized, "подпись недействительна")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

// SignOwner возвращает подпись владельца для заголовка X-Owner-Signature.
func SignOwner(secret, owner string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(owner))
	return hex.EncodeToString(h.Sum(nil))
}

func validSignature(owner, signature string, key []byte) bool {
	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(expected) == 0 {
		return false
	}
	h := hmac.New(sha256.New, key)
	h.Write([]byte(owner))
	return hmac.Equal(h.Sum(nil), expected)
}

// WithOwner возвращает контекст с владельцем.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// Owner возвращает владельца запроса.
func Owner(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON отправляет значение в JSON.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}
