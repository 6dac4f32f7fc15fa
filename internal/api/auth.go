package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/srg/puttlab/internal/storage"
)

const defaultBcryptCost = bcrypt.DefaultCost

type tokenKey struct{}

func (s *Server) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	return string(hash), err
}

func checkPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// requireToken admits requests carrying a valid bearer token of ownerType and
// puts the token into the request context.
func (s *Server) requireToken(ownerType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plain := bearerToken(r)
			if plain == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
				return
			}

			tok, err := s.store.LookupToken(r.Context(), plain)
			switch {
			case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrTokenExpired):
				s.logger.WithField("error", err).Debug("Rejected bearer token")
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
				return
			case err != nil:
				s.serverError(w, r, err)
				return
			case tok.OwnerType != ownerType:
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenKey{}, tok)))
		})
	}
}

func tokenFrom(ctx context.Context) (storage.Token, bool) {
	tok, ok := ctx.Value(tokenKey{}).(storage.Token)
	return tok, ok
}
