package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/acmecorp/people-sync/pkg/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// identityFrom returns the verified principal of the request, if any.
func identityFrom(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityKey).(*auth.Identity)
	return identity
}

func withIdentity(r *http.Request, identity *auth.Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityKey, identity))
}

// requireAuth composes the two gate steps in front of next: token
// verification, then the permission check. The three rejection classes map
// to 401, 403 and 500.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.gate.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.writeError(w, http.StatusUnauthorized, string(auth.KindUnauthenticated),
				"authorization token required: provide a bearer token in the Authorization header")
			return
		}

		identity, err := s.gate.Verify(r.Context(), token)
		if err != nil {
			var authErr *auth.Error
			if errors.As(err, &authErr) {
				s.writeError(w, http.StatusUnauthorized, string(authErr.Kind), authErr.Message)
				return
			}

			s.log.Error().Err(err).Msg("token verification failed")
			s.writeError(w, http.StatusInternalServerError, "authorization_error", "failed to verify authorization")

			return
		}

		if s.gate.Project() == "" {
			s.writeError(w, http.StatusInternalServerError, string(auth.KindConfiguration),
				"server configuration error: unable to determine project context")
			return
		}

		granted, err := s.gate.CheckPermission(r.Context(), identity)
		if err != nil {
			s.log.Error().Err(err).Str("email", identity.Email).Msg("permission check failed")
			s.writeError(w, http.StatusInternalServerError, "authorization_error", "failed to verify authorization")

			return
		}

		if !granted {
			s.writeError(w, http.StatusForbidden, string(auth.KindUnauthorized),
				"access denied: "+identity.Email+" does not hold the required permission")
			return
		}

		next.ServeHTTP(w, withIdentity(r, identity))
	}
}

// optionalAuth resolves an identity when a valid token is presented but
// never rejects: an absent or invalid credential means anonymous.
func (s *Server) optionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.gate.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := s.gate.Verify(r.Context(), token)
		if err != nil {
			s.log.Debug().Err(err).Msg("optional auth: treating request as anonymous")
			next.ServeHTTP(w, r)

			return
		}

		next.ServeHTTP(w, withIdentity(r, identity))
	}
}
