package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestBreaker(threshold int, coolDown time.Duration, probes int) *Breaker {
	return NewBreaker(BreakerConfig{
		Name:      "test",
		Threshold: threshold,
		CoolDown:  coolDown,
		Probes:    probes,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

var errProvider = errors.New("provider down")

func fail(context.Context) error { return errProvider }

func ok(context.Context) error { return nil }

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := newTestBreaker(3, time.Minute, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Do(ctx, fail); !errors.Is(err, errProvider) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Do(ctx, ok); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("err = %v, want ErrBreakerOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(3, time.Minute, 1)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, ok)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)

	if b.State() != BreakerClosed {
		t.Errorf("state = %v, want closed (streak broken by success)", b.State())
	}
}

func TestBreakerPermanentErrorsDoNotTrip(t *testing.T) {
	b := newTestBreaker(2, time.Minute, 1)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := b.Do(ctx, func(context.Context) error {
			return Permanent(errors.New("bad request"))
		})
		if !IsPermanent(err) {
			t.Fatalf("call %d: err = %v, want permanent passthrough", i, err)
		}
	}
	if b.State() != BreakerClosed {
		t.Errorf("state = %v, want closed (rejections are not provider health)", b.State())
	}
}

func TestBreakerClosesAfterProbeSuccesses(t *testing.T) {
	b := newTestBreaker(1, 5*time.Millisecond, 2)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	time.Sleep(10 * time.Millisecond)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open after cool-down", b.State())
	}

	if err := b.Do(ctx, ok); err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want still half-open after one of two probes", b.State())
	}
	if err := b.Do(ctx, ok); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := newTestBreaker(1, 5*time.Millisecond, 1)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	time.Sleep(10 * time.Millisecond)

	if err := b.Do(ctx, fail); !errors.Is(err, errProvider) {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != BreakerOpen {
		t.Errorf("state = %v, want re-opened", b.State())
	}
	if err := b.Do(ctx, ok); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("err = %v, want ErrBreakerOpen during fresh cool-down", err)
	}
}

func TestBreakerSingleProbeInFlight(t *testing.T) {
	b := newTestBreaker(1, time.Millisecond, 1)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	time.Sleep(5 * time.Millisecond)

	release := make(chan struct{})
	probeDone := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		probeDone <- b.Do(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	// With the probe in flight, a concurrent call must be rejected rather
	// than allowed through alongside it.
	<-started
	if err := b.Do(ctx, ok); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("concurrent call err = %v, want ErrBreakerOpen", err)
	}

	close(release)
	if err := <-probeDone; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreakerRejectsCancelledContext(t *testing.T) {
	b := newTestBreaker(3, time.Minute, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn must not run with a dead context")
	}
}

func TestBreakerGroupSharedPerName(t *testing.T) {
	g := NewBreakerGroup(BreakerConfig{
		Threshold: 1,
		CoolDown:  time.Minute,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx := context.Background()

	if g.For("asr") != g.For("asr") {
		t.Error("For must return the same breaker for the same name")
	}

	_ = g.For("asr").Do(ctx, fail)
	if g.For("asr").State() != BreakerOpen {
		t.Errorf("asr state = %v, want open", g.For("asr").State())
	}
	if err := g.For("archive").Do(ctx, ok); err != nil {
		t.Errorf("archive must be unaffected, err = %v", err)
	}
}

func TestBreakerStateString(t *testing.T) {
	for s, want := range map[BreakerState]string{
		BreakerClosed:   "closed",
		BreakerOpen:     "open",
		BreakerHalfOpen: "half-open",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
