package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/joe10832/TickerQ/ext"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/middleware"
)

func testTask() ext.TaskInfo {
	return ext.TaskInfo{
		ID:       id.NewJobID(),
		Kind:     ext.KindJob,
		Function: "test-fn",
	}
}

func TestChainOrder(t *testing.T) {
	var order []string

	mw := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ ext.TaskInfo, next middleware.Handler) error {
			order = append(order, name+"-before")
			err := next(ctx)
			order = append(order, name+"-after")
			return err
		}
	}

	chain := middleware.Chain(mw("outer"), mw("inner"))
	err := chain(context.Background(), testTask(), func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("chain error: %v", err)
	}

	want := []string{"outer-before", "inner-before", "handler", "inner-after", "outer-after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChainEmpty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	err := chain(context.Background(), testTask(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("chain error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	chain := middleware.Chain(middleware.Recover(slog.Default()))
	err := chain(context.Background(), testTask(), func(_ context.Context) error {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
}

func TestRecoverPassesError(t *testing.T) {
	want := errors.New("normal failure")
	chain := middleware.Chain(middleware.Recover(slog.Default()))
	err := chain(context.Background(), testTask(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("error = %v, want %v", err, want)
	}
}

func TestTimeoutCancelsContext(t *testing.T) {
	task := testTask()
	task.Timeout = 10 * time.Millisecond

	chain := middleware.Chain(middleware.Timeout(slog.Default()))
	err := chain(context.Background(), task, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestTimeoutZeroIsPassThrough(t *testing.T) {
	chain := middleware.Chain(middleware.Timeout(slog.Default()))
	err := chain(context.Background(), testTask(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("no deadline expected for zero timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("chain error: %v", err)
	}
}
