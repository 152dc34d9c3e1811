package domain

import (
	"context"
	"strings"
)

const (
	// RoleAdmin — администратор магазина.
	RoleAdmin = "ADMIN"
	// RoleStaff — сотрудник, обрабатывающий заказы.
	RoleStaff = "STAFF"
)

// Principal: аутентифицированный пользователь, от имени которого выполняется операция.
type Principal struct {
	UserID string
	Roles  []string
}

// HasRole проверяет наличие роли без учёта регистра.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}

// IsStaff истинно для администраторов и сотрудников.
func (p Principal) IsStaff() bool {
	return p.HasRole(RoleAdmin) || p.HasRole(RoleStaff)
}

type principalKey struct{}

// WithPrincipal кладёт пользователя в контекст запроса.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext достаёт пользователя из контекста.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || strings.TrimSpace(p.UserID) == "" {
		return Principal{}, false
	}
	return p, true
}
