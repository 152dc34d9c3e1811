package users

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/gateway"
)

// MockClient — справочник пользователей в памяти.
// Если AllowUnknown включён, неизвестный пользователь считается активным.
type MockClient struct {
	mu    sync.Mutex
	users map[string]domain.User

	AllowUnknown bool
	FetchErr     error
	ValidateErr  error
}

var _ gateway.UsersClient = (*MockClient)(nil)

// NewMockClient возвращает пустой справочник.
func NewMockClient() *MockClient {
	return &MockClient{users: make(map[string]domain.User)}
}

// Put добавляет или заменяет пользователя.
func (m *MockClient) Put(user domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

// SetErrors задаёт ошибки FetchUser и ValidateUser.
func (m *MockClient) SetErrors(fetch, validate error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchErr, m.ValidateErr = fetch, validate
}

func (m *MockClient) FetchUser(_ context.Context, userID string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return domain.User{}, m.FetchErr
	}
	user, ok := m.users[userID]
	if !ok {
		if m.AllowUnknown {
			return domain.User{ID: userID, Active: true}, nil
		}
		return domain.User{}, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
	}
	return user, nil
}

func (m *MockClient) ValidateUser(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ValidateErr != nil {
		return false, m.ValidateErr
	}
	user, ok := m.users[userID]
	if !ok {
		return m.AllowUnknown, nil
	}
	return user.Active, nil
}
