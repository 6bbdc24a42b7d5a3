package recovery

import (
	"fmt"
	"sync"

	"github.com/wudi/pdfdump/observability"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy records every error, logs it at debug level and asks the
// caller to continue with its best guess.
type LenientStrategy struct {
	Logger observability.Logger

	mu     sync.Mutex
	errors []error
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{}
}

// WithLogger sets the logger used to report recovered errors.
func (s *LenientStrategy) WithLogger(l observability.Logger) *LenientStrategy {
	s.Logger = l
	return s
}

func (s *LenientStrategy) OnError(ctx Context, err error, location Location) Action {
	wrapped := fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err)
	s.mu.Lock()
	s.errors = append(s.errors, wrapped)
	s.mu.Unlock()
	if s.Logger != nil {
		s.Logger.Debug("recovered parse error",
			observability.String("component", location.Component),
			observability.Int64("offset", location.ByteOffset),
			observability.Int("object", location.ObjectNum),
			observability.Error("error", err),
		)
	}
	return ActionWarn
}

// Errors returns the errors recorded so far.
func (s *LenientStrategy) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}
