package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CallerHeader carries the already-authenticated caller identity.
const CallerHeader = "X-Caller-Address"

type callerKey struct{}

// Caller parses CallerHeader into the request context. A malformed address
// is rejected with 400; an absent header is left for handlers to decide.
func Caller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(CallerHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, "malformed "+CallerHeader)
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, common.HexToAddress(raw))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerFrom returns the caller stored by Caller.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// RequireCaller answers 401 unless the request carries a caller identity.
func RequireCaller(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CallerFrom(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "missing "+CallerHeader)
			return
		}
		next(w, r)
	}
}
