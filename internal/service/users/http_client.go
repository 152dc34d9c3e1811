// Package users содержит транспорт к сервису пользователей.
package users

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/gateway"
	"github.com/vladislavdragonenkov/orders/internal/service/remote"
)

type userPayload struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	FullName  string `json:"fullName"`
	IsActive  *bool  `json:"isActive"`
	Role      string `json:"role"`
}

func (p userPayload) toDomain() domain.User {
	name := strings.TrimSpace(p.FullName)
	if name == "" {
		name = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}
	if name == "" {
		name = p.Username
	}

	var roles []string
	if p.Role != "" {
		roles = []string{strings.ToUpper(p.Role)}
	}

	return domain.User{
		ID:     p.ID,
		Name:   name,
		Email:  p.Email,
		Active: p.IsActive == nil || *p.IsActive,
		Roles:  roles,
	}
}

// HTTPClient обращается к сервису пользователей по JSON API /api/v1/users.
type HTTPClient struct {
	remote *remote.Client
}

var _ gateway.UsersClient = (*HTTPClient)(nil)

// NewHTTPClient создаёт клиента сервиса пользователей. httpClient может быть nil.
func NewHTTPClient(baseURL string, httpClient *http.Client, logger *log.Entry) *HTTPClient {
	return &HTTPClient{remote: remote.NewClient(baseURL, "users", httpClient, logger)}
}

// FetchUser вызывает GET /api/v1/users/{id}.
func (c *HTTPClient) FetchUser(ctx context.Context, userID string) (domain.User, error) {
	var payload userPayload
	err := c.remote.GetJSON(ctx, userPath(userID), &payload)
	if errors.Is(err, remote.ErrNotFound) {
		return domain.User{}, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
	}
	if err != nil {
		return domain.User{}, err
	}
	if payload.ID == "" {
		payload.ID = userID
	}
	return payload.toDomain(), nil
}

// ValidateUser вызывает GET /api/v1/users/{id}/validate.
// Неизвестный пользователь невалиден, это не ошибка.
func (c *HTTPClient) ValidateUser(ctx context.Context, userID string) (bool, error) {
	var valid bool
	err := c.remote.GetJSON(ctx, userPath(userID)+"/validate", &valid)
	if errors.Is(err, remote.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return valid, nil
}

func userPath(userID string) string {
	return "/api/v1/users/" + remote.PathEscape(userID)
}
