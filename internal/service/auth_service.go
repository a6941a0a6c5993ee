package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUserDisabled = errors.New("user disabled")
)

// Servicio que consulta al microservicio externo de autenticación.
type AuthService struct {
	authURL string
	client  *http.Client
}

type AuthUser struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Login       string   `json:"login"`
	Enabled     bool     `json:"enabled"`
}

func NewAuthService(authURL string) *AuthService {
	return &AuthService{
		authURL: strings.TrimRight(authURL, "/"),
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Verifica si el usuario tiene permiso de administrador.
func (u *AuthUser) IsAdmin() bool {
	return slices.Contains(u.Permissions, "admin")
}

// Valida el token consultando a /users/current del microservicio de auth.
func (a *AuthService) ValidateToken(ctx context.Context, token string) (*AuthUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/users/current", a.authURL), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrInvalidToken
	}

	var user AuthUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}
	if !user.Enabled {
		return nil, ErrUserDisabled
	}
	return &user, nil
}
