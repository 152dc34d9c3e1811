package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrOpen возвращается, когда breaker отклоняет вызов без обращения к зависимости.
var ErrOpen = errors.New("circuit breaker is open")

// State — режим работы circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
)

// Settings задаёт параметры одного breaker.
type Settings struct {
	// FailureThreshold — число подряд идущих ошибок, после которого breaker открывается.
	FailureThreshold int
	// OpenTimeout — сколько breaker остаётся открытым до пробного вызова.
	OpenTimeout time.Duration
	// IsFailure решает, считается ли ошибка отказом зависимости.
	// По умолчанию отказом считается любая ошибка. Отмена вызывающим
	// (context.Canceled) до IsFailure не доходит: такой вызов не учитывается вовсе.
	IsFailure func(err error) bool
	// OnStateChange вызывается после смены режима, вне блокировки.
	OnStateChange func(name string, from, to State)
	Logger        *log.Entry
	// Now подменяется в тестах.
	Now func() time.Time
}

// Snapshot — состояние breaker на момент чтения.
type Snapshot struct {
	Name        string
	State       State
	Failures    int
	LastFailure time.Time
	OpenedAt    time.Time
}

// Breaker — потокобезопасный circuit breaker для одного вызова одной зависимости.
type Breaker struct {
	name          string
	threshold     int
	openTimeout   time.Duration
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)
	now           func() time.Time
	logger        *log.Entry

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	openedAt    time.Time
	// generation меняется при каждой смене режима; результаты вызовов,
	// допущенных в прошлом поколении, игнорируются.
	generation    uint64
	trialInFlight bool
}

// New создаёт breaker в режиме CLOSED.
func New(name string, settings Settings) *Breaker {
	b := &Breaker{
		name:          name,
		threshold:     settings.FailureThreshold,
		openTimeout:   settings.OpenTimeout,
		isFailure:     settings.IsFailure,
		onStateChange: settings.OnStateChange,
		now:           settings.Now,
		logger:        settings.Logger,
		state:         StateClosed,
	}
	if b.threshold <= 0 {
		b.threshold = defaultFailureThreshold
	}
	if b.openTimeout <= 0 {
		b.openTimeout = defaultOpenTimeout
	}
	if b.isFailure == nil {
		b.isFailure = defaultIsFailure
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.logger == nil {
		b.logger = log.WithField("component", "circuit-breaker")
	}
	b.logger = b.logger.WithField("breaker", name)
	return b
}

// Name возвращает ключ breaker.
func (b *Breaker) Name() string { return b.name }

// State возвращает текущий режим. Просроченный OPEN отображается как OPEN
// до первого вызова, который и переводит breaker в HALF_OPEN.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot возвращает копию состояния.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		OpenedAt:    b.openedAt,
	}
}

// Execute выполняет fn, если breaker пропускает вызов, и учитывает результат.
// При отказе возвращает ErrOpen, fn при этом не вызывается.
func (b *Breaker) Execute(fn func() error) (err error) {
	generation, err := b.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(generation, resultFailure)
			panic(r)
		}
	}()

	err = fn()
	b.record(generation, b.classify(err))
	return err
}

// result — итог вызова с точки зрения breaker.
type result int

const (
	resultSuccess result = iota
	resultFailure
	// resultAbandoned: вызывающий отменил вызов, зависимость своё состояние не показала.
	resultAbandoned
)

func (b *Breaker) classify(err error) result {
	switch {
	case err == nil:
		return resultSuccess
	case errors.Is(err, context.Canceled):
		return resultAbandoned
	case b.isFailure(err):
		return resultFailure
	default:
		return resultSuccess
	}
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	var change *transition

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.openTimeout {
			b.mu.Unlock()
			return 0, ErrOpen
		}
		change = b.setState(StateHalfOpen)
		b.trialInFlight = true
	case StateHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return 0, ErrOpen
		}
		b.trialInFlight = true
	}

	generation := b.generation
	b.mu.Unlock()

	b.notify(change)
	return generation, nil
}

func (b *Breaker) record(generation uint64, res result) {
	b.mu.Lock()
	if generation != b.generation {
		b.mu.Unlock()
		return
	}

	var change *transition
	switch b.state {
	case StateClosed:
		switch res {
		case resultSuccess:
			b.failures = 0
		case resultFailure:
			b.failures++
			b.lastFailure = b.now()
			if b.failures >= b.threshold {
				change = b.setState(StateOpen)
			}
		}
	case StateHalfOpen:
		// Брошенная проба освобождает слот, breaker остаётся HALF_OPEN.
		b.trialInFlight = false
		switch res {
		case resultSuccess:
			change = b.setState(StateClosed)
		case resultFailure:
			b.lastFailure = b.now()
			change = b.setState(StateOpen)
		}
	}
	b.mu.Unlock()

	b.notify(change)
}

type transition struct {
	from, to State
	failures int
}

// setState вызывается под блокировкой.
func (b *Breaker) setState(to State) *transition {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.generation++

	switch to {
	case StateOpen:
		b.openedAt = b.now()
	case StateClosed:
		b.failures = 0
		b.trialInFlight = false
	}
	return &transition{from: from, to: to, failures: b.failures}
}

func (b *Breaker) notify(change *transition) {
	if change == nil {
		return
	}

	entry := b.logger.WithFields(log.Fields{
		"from":     change.from.String(),
		"to":       change.to.String(),
		"failures": change.failures,
	})
	if change.to == StateOpen {
		entry.Warn("circuit breaker opened")
	} else {
		entry.Info("circuit breaker state changed")
	}

	if b.onStateChange != nil {
		b.onStateChange(b.name, change.from, change.to)
	}
}

func defaultIsFailure(error) bool {
	return true
}
