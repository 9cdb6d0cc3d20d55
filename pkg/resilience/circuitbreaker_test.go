package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chris-alexander-pop/docubroker/pkg/resilience"
	"github.com/stretchr/testify/suite"
)

// CircuitBreakerSuite exercises the closed/open/half_open transitions
// spec section 4.5 defines and section 8 scenario 5 works through at
// concrete thresholds.
type CircuitBreakerSuite struct {
	suite.Suite
}

func (s *CircuitBreakerSuite) TestInitialStateClosed() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "test"})
	s.Equal(resilience.StateClosed, cb.State())
}

func (s *CircuitBreakerSuite) TestOpensAtFailureThreshold() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 5,
		Timeout:          time.Minute,
	})

	testErr := errors.New("embedding failure")
	for i := 0; i < 4; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error { return testErr })
		s.Error(err)
		s.Equal(resilience.StateClosed, cb.State(), "circuit must stay closed before the threshold is reached")
	}

	// The fifth consecutive failure trips the breaker (spec section 4.5,
	// section 8 scenario 5: "five consecutive embedding failures flip
	// the circuit to open").
	err := cb.Execute(context.Background(), func(ctx context.Context) error { return testErr })
	s.Error(err)
	s.Equal(resilience.StateOpen, cb.State())
}

func (s *CircuitBreakerSuite) TestOpenCircuitFailsFastWithoutCallingFn() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		Timeout:          time.Minute,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	s.Equal(resilience.StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	s.ErrorIs(err, resilience.ErrCircuitOpen)
	s.False(called, "a call while open must never reach fn")
}

func (s *CircuitBreakerSuite) TestHalfOpenAfterRecoveryTimeout() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		Timeout:          20 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	s.Equal(resilience.StateOpen, cb.State())

	time.Sleep(25 * time.Millisecond)

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	s.NoError(err)
	s.True(called, "the first call after the recovery timeout must be attempted (half_open)")
	s.Equal(resilience.StateClosed, cb.State())
}

func (s *CircuitBreakerSuite) TestHalfOpenSuccessCloses() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	time.Sleep(15 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	s.NoError(err)
	s.Equal(resilience.StateClosed, cb.State())
}

func (s *CircuitBreakerSuite) TestHalfOpenFailureReopens() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	time.Sleep(15 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom again") })
	s.Error(err)
	s.Equal(resilience.StateOpen, cb.State())
}

func (s *CircuitBreakerSuite) TestSuccessResetsFailureCountWhileClosed() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
		Timeout:          time.Minute,
	})

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	}
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	}

	s.Equal(resilience.StateClosed, cb.State(), "an intervening success must reset the consecutive-failure count")
}

func TestCircuitBreakerSuite(t *testing.T) {
	suite.Run(t, new(CircuitBreakerSuite))
}
