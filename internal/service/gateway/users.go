package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/breaker"
)

// UsersClient — транспорт сервиса пользователей.
// FetchUser возвращает domain.ErrUserNotFound для неизвестного пользователя.
type UsersClient interface {
	FetchUser(ctx context.Context, userID string) (domain.User, error)
	ValidateUser(ctx context.Context, userID string) (bool, error)
}

// Users реализует domain.UserDirectory поверх UsersClient.
type Users struct {
	client   UsersClient
	fetch    *breaker.Breaker
	validate *breaker.Breaker
	opts     options
}

var _ domain.UserDirectory = (*Users)(nil)

// NewUsers создаёт gateway сервиса пользователей.
func NewUsers(client UsersClient, registry *breaker.Registry, opts ...Option) *Users {
	return &Users{
		client:   client,
		fetch:    registry.GetClassified(BreakerUsersFetch, IsDependencyFailure),
		validate: registry.GetClassified(BreakerUsersValidate, IsDependencyFailure),
		opts:     buildOptions("users-gateway", opts),
	}
}

// CurrentUserID читает пользователя из контекста запроса.
func (u *Users) CurrentUserID(ctx context.Context) (string, error) {
	principal, ok := domain.PrincipalFromContext(ctx)
	if !ok {
		return "", domain.ErrUnauthenticated
	}
	return principal.UserID, nil
}

// FetchUser загружает профиль пользователя.
func (u *Users) FetchUser(ctx context.Context, userID string) (domain.User, error) {
	user, err := call(ctx, u.fetch, u.opts.timeouts.Fetch, func(ctx context.Context) (domain.User, error) {
		return u.client.FetchUser(ctx, userID)
	})
	if err == nil {
		return user, nil
	}
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, err
	}
	u.opts.fallback(BreakerUsersFetch, userID, err)
	return domain.User{}, fmt.Errorf("%w: user %s: %w", domain.ErrServiceUnavailable, userID, err)
}

// Validate проверяет, что пользователь существует и активен. При деградации отвечает false.
func (u *Users) Validate(ctx context.Context, userID string) bool {
	ok, err := call(ctx, u.validate, u.opts.timeouts.Check, func(ctx context.Context) (bool, error) {
		return u.client.ValidateUser(ctx, userID)
	})
	if err != nil {
		u.opts.fallback(BreakerUsersValidate, userID, err)
		return false
	}
	return ok
}
