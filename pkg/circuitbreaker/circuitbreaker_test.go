package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream 503")

func newTestBreaker(clock *time.Time) *CircuitBreaker {
	cb := New(Config{FailureThreshold: 2, OpenTimeout: time.Minute})
	cb.now = func() time.Time { return *clock }
	return cb
}

func TestOpensAfterThreshold(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	fail := func() error { return errUpstream }

	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatalf("state after 1 failure = %s", cb.State())
	}
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state after 2 failures = %s", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Errorf("open breaker should reject: err=%v called=%v", err, called)
	}
}

func TestHalfOpenProbe(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	_ = cb.Execute(func() error { return errUpstream })
	_ = cb.Execute(func() error { return errUpstream })

	clock = clock.Add(2 * time.Minute)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state after successful probe = %s", cb.State())
	}
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	_ = cb.Execute(func() error { return errUpstream })
	_ = cb.Execute(func() error { return errUpstream })

	clock = clock.Add(2 * time.Minute)
	_ = cb.Execute(func() error { return errUpstream })

	if cb.State() != StateOpen {
		t.Errorf("state after failed probe = %s", cb.State())
	}
}

func TestIgnoredErrorsDoNotTrip(t *testing.T) {
	errShape := errors.New("bad shape")
	cb := New(Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errShape) },
	})

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errShape }); !errors.Is(err, errShape) {
			t.Fatalf("err = %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestReset(t *testing.T) {
	cb := New(Config{FailureThreshold: 1})
	_ = cb.Execute(func() error { return errUpstream })
	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("state after reset = %s", cb.State())
	}
}
