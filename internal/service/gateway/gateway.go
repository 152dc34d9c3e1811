// Package gateway защищает обращения к каталогу товаров и сервису пользователей:
// у каждой операции свой circuit breaker, таймаут и резервное значение.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/breaker"
)

// Ключи breaker в реестре.
const (
	BreakerProductsExists = "products.exists"
	BreakerProductsFetch  = "products.fetch"
	BreakerProductsStock  = "products.stock"
	BreakerUsersValidate  = "users.validate"
	BreakerUsersFetch     = "users.fetch"
)

const (
	defaultCheckTimeout = 3 * time.Second
	defaultFetchTimeout = 5 * time.Second
)

// Timeouts задаёт дедлайны вызовов: Check для проверок, Fetch для загрузки данных.
type Timeouts struct {
	Check time.Duration
	Fetch time.Duration
}

// FallbackRecorder учитывает срабатывания резервных значений.
type FallbackRecorder interface {
	RecordFallback(breakerName string)
}

type options struct {
	logger    *log.Entry
	fallbacks FallbackRecorder
	timeouts  Timeouts
}

// Option настраивает gateway.
type Option func(*options)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFallbackRecorder подключает учёт резервных ответов в метриках.
func WithFallbackRecorder(recorder FallbackRecorder) Option {
	return func(o *options) {
		o.fallbacks = recorder
	}
}

// WithTimeouts переопределяет дедлайны; нулевые значения оставляют значения по умолчанию.
func WithTimeouts(t Timeouts) Option {
	return func(o *options) {
		if t.Check > 0 {
			o.timeouts.Check = t.Check
		}
		if t.Fetch > 0 {
			o.timeouts.Fetch = t.Fetch
		}
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{
		timeouts: Timeouts{Check: defaultCheckTimeout, Fetch: defaultFetchTimeout},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.WithField("component", component)
	}
	return o
}

// IsDependencyFailure — классификатор ошибок для breaker.Settings.IsFailure.
// Ответы "не найдено" и отмена вызывающим не считаются отказом зависимости.
func IsDependencyFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		return false
	default:
		return true
	}
}

type outcome[T any] struct {
	value T
	err   error
}

// call выполняет fn через breaker с дедлайном. Вызов возвращается по дедлайну,
// даже если транспорт игнорирует контекст.
func call[T any](ctx context.Context, b *breaker.Breaker, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result T
	err := b.Execute(func() error {
		done := make(chan outcome[T], 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- outcome[T]{err: fmt.Errorf("%s: panic: %v", b.Name(), r)}
				}
			}()
			v, err := fn(ctx)
			done <- outcome[T]{value: v, err: err}
		}()

		select {
		case res := <-done:
			result = res.value
			return res.err
		case <-ctx.Done():
			return fmt.Errorf("%s: no response within %s: %w", b.Name(), timeout, ctx.Err())
		}
	})
	return result, err
}

// fallback логирует и учитывает резервный ответ.
func (o options) fallback(name, id string, err error) {
	entry := o.logger.WithFields(log.Fields{
		"breaker": name,
		"id":      id,
	}).WithError(err)
	if errors.Is(err, breaker.ErrOpen) {
		entry.Warn("circuit open, using fallback")
	} else {
		entry.Warn("dependency call failed, using fallback")
	}
	if o.fallbacks != nil {
		o.fallbacks.RecordFallback(name)
	}
}
