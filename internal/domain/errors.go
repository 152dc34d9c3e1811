package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора пользователя-владельца.
	ErrUserIDRequired = errors.New("user_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отрицательной стоимости доставки.
	ErrShippingCostNegative = errors.New("shipping cost must be non-negative")
	// Ошибка при некорректном количестве товара (< 1).
	ErrItemQuantityInvalid = errors.New("item quantity must be at least 1")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия сумм заказа его позициям.
	ErrTotalsMismatch = errors.New("order totals do not match items")
	// ErrOrderItemNotFound — позиция с таким ID в заказе отсутствует.
	ErrOrderItemNotFound = errors.New("order item not found")
	// ErrOrderItemsRequired — заказ без позиций не создаётся.
	ErrOrderItemsRequired = errors.New("order must contain at least one item")
	// ErrShippingAddressRequired — без адреса доставки заказ не создаётся.
	ErrShippingAddressRequired = errors.New("shipping address is required")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrInvalidStatusTransition — переход запрещён таблицей статусов.
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	// ErrOrderNotCancellable — отмена возможна только до оплаты. Частный случай ErrInvalidStatusTransition.
	ErrOrderNotCancellable = fmt.Errorf("order cannot be cancelled: %w", ErrInvalidStatusTransition)
	// ErrOrderCreationFailed — составная ошибка создания заказа; причина оборачивается рядом.
	ErrOrderCreationFailed = errors.New("order creation failed")

	// ErrProductNotAvailable — товар отсутствует в каталоге или его нет в наличии.
	ErrProductNotAvailable = errors.New("product not available")
	// ErrProductValidationFailed — не удалось получить или проверить данные товара.
	ErrProductValidationFailed = errors.New("product validation failed")
	// ErrProductNotFound — каталог ответил, что товара нет.
	ErrProductNotFound = errors.New("product not found")
	// ErrUserNotFound — сервис пользователей ответил, что пользователя нет.
	ErrUserNotFound = errors.New("user not found")

	// ErrUnauthenticated — в контексте нет аутентифицированного пользователя.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnauthorized — пользователь не владеет заказом или не активен.
	ErrUnauthorized = errors.New("unauthorized order access")
	// ErrAccessDenied — у пользователя нет роли для привилегированной операции.
	ErrAccessDenied = errors.New("access denied")

	// ErrServiceUnavailable — внешний сервис деградировал и безопасного значения нет.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки хранилища idempotency-ключей.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
