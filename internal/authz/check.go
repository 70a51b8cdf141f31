package authz

import (
	"context"
	"net/http"
)

// PrincipalFromRequest extracts the effective principal.
// Order of precedence:
// - act_as cookie (if set)
// - X-Principal header
// - X-User-ID header, as user:<id>
// - anonymous
func PrincipalFromRequest(r *http.Request) string {
	if c, err := r.Cookie("act_as"); err == nil && c.Value != "" {
		return c.Value
	}
	if v := r.Header.Get("X-Principal"); v != "" {
		return v
	}
	if v := r.Header.Get("X-User-ID"); v != "" {
		return "user:" + v
	}
	return "user:anonymous"
}

// Can checks authorization using the provided client and request context.
// Errors never allow.
func Can(ctx context.Context, c Client, r *http.Request, object, relation string) (bool, error) {
	allowed, err := c.Check(ctx, PrincipalFromRequest(r), object, relation)
	if err != nil {
		return false, err
	}
	return allowed, nil
}
