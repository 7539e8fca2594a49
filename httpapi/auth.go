package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"signflow/auth"
	"signflow/fault"
)

// requireAuth gates the admin routes behind an HS256 bearer token. An
// empty secret disables verification; that mode exists for local runs
// where the auth collaborator is not deployed.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.jwtSecret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := bearerToken(r)
		if !ok {
			s.unauthorized(w, "missing bearer token")
			return
		}

		token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			s.unauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

func (s *Server) unauthorized(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": msg})
}

type loginResponse struct {
	Token    string `json:"token"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.Wrap(fault.Validation, err, "httpapi: decode login request"))
		return
	}

	res, err := s.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.unauthorized(w, "invalid credentials")
			return
		}
		s.writeError(w, fault.Wrap(fault.Internal, err, "httpapi: login"))
		return
	}

	s.writeJSON(w, http.StatusOK, loginResponse{
		Token:    res.Token,
		Email:    res.Account.Email,
		FullName: res.Account.FullName,
		Role:     string(res.Account.Role),
	})
}
