package authz

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Require returns a middleware that enforces an authz check.
// objectRel returns object and relation. If object is empty, the check is skipped.
func Require(c Client, log *zap.Logger, objectRel func(*http.Request) (string, string)) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			obj, rel := objectRel(r)
			if obj == "" || rel == "" {
				next.ServeHTTP(w, r)
				return
			}
			allowed, err := Can(r.Context(), c, r, obj, rel)
			if err != nil {
				log.Warn("authz check error",
					zap.String("principal", PrincipalFromRequest(r)),
					zap.String("object", obj),
					zap.String("relation", rel),
					zap.Error(err))
				forbid(w, "authorization error")
				return
			}
			if !allowed {
				forbid(w, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forbid(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
