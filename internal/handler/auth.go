package handler

import (
	"errors"
	"net/http"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"gradebook/internal/auth"
	"gradebook/internal/docstore"
	"gradebook/internal/policy"
)

// Authenticate attaches the bearer token's caller to the request context.
// Requests without a token run as the anonymous caller. With an empty
// secret every request is anonymous.
func Authenticate(secret []byte) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			token, err := auth.BearerToken(r)
			if errors.Is(err, auth.ErrNoToken) {
				next.ServeHTTP(w, r)
				return
			}
			var caller policy.Caller
			if err == nil {
				caller, err = auth.Parse(secret, token)
			}
			if err != nil {
				glog.V(1).Infof("[h]rejected token from %s = %s\n", r.RemoteAddr, err)
				writeErrorStatus(w, http.StatusUnauthorized, docstore.NewError(docstore.KindPermissionDenied, "authenticate", err))
				return
			}
			next.ServeHTTP(w, r.WithContext(policy.WithCaller(r.Context(), caller)))
		})
	}
}
