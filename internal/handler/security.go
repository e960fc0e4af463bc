package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/mall-pos/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// authenticate resolves the api_key header to an identity. The key is looked
// up by its HMAC and the stored hash is compared again in constant time.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			h.fail(w, r, errors.Wrap(errUnauthorized, "missing api key"))
			return
		}
		hash := auth.HashKey(h.Pepper, key)

		k, err := h.APIKeys.FindByHash(r.Context(), hash)
		switch {
		case errors.Is(err, auth.ErrNotFound):
			h.fail(w, r, errUnauthorized)
			return
		case err != nil:
			h.fail(w, r, errors.Wrap(err, "find api key"))
			return
		}
		want, _ := hex.DecodeString(k.KeyHash)
		got, _ := hex.DecodeString(hash)
		if len(want) == 0 || subtle.ConstantTimeCompare(want, got) != 1 || !k.Role.Valid() {
			h.fail(w, r, errUnauthorized)
			return
		}

		id := auth.Identity{ID: k.ID, Name: k.Name, Role: k.Role}
		ctx := auth.WithIdentity(r.Context(), id)
		ctx = zctx.With(ctx, zap.String("user", id.Name), zap.String("role", string(id.Role)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.FromContext(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody(http.StatusUnauthorized, errUnauthorized.Error()))
				return
			}
			if !id.Can(roles...) {
				writeJSON(w, http.StatusForbidden, errorBody(http.StatusForbidden, errForbidden.Error()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
