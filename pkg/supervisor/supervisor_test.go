package supervisor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

func waitFor(t *testing.T, c chan struct{}, msg string) {
	t.Helper()
	select {
	case <-c:
	case <-time.After(10 * time.Second):
		t.Fatal(msg)
	}
}

func TestRunsAndShutsDown(t *testing.T) {
	rootStarted := make(chan struct{}, 1)
	workerStarted := make(chan struct{}, 1)
	workerStopped := make(chan struct{}, 1)

	log, _ := zap.NewDevelopment()
	ctx, ctxC := context.WithCancel(context.Background())
	defer ctxC()

	New(ctx, log, func(ctx context.Context) error {
		if err := Run(ctx, "worker", func(ctx context.Context) error {
			Signal(ctx, SignalHealthy)
			workerStarted <- struct{}{}
			<-ctx.Done()
			workerStopped <- struct{}{}
			return ctx.Err()
		}); err != nil {
			return err
		}
		Signal(ctx, SignalHealthy)
		rootStarted <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}, WithPropagatePanic)

	waitFor(t, rootStarted, "root didn't start")
	waitFor(t, workerStarted, "worker didn't start")

	ctxC()
	waitFor(t, workerStopped, "worker didn't acknowledge cancel")
}

func TestRestartsFailedRunnable(t *testing.T) {
	attempts := make(chan int, 16)

	log, _ := zap.NewDevelopment()
	ctx, ctxC := context.WithCancel(context.Background())
	defer ctxC()

	// Attempts run sequentially in the supervise loop, so the counter needs
	// no locking.
	attempt := 0
	New(ctx, log, func(ctx context.Context) error {
		attempt++
		attempts <- attempt
		if attempt < 3 {
			return fmt.Errorf("crash %d", attempt)
		}
		Signal(ctx, SignalHealthy)
		<-ctx.Done()
		return ctx.Err()
	})

	deadline := time.After(10 * time.Second)
	for want := 1; want <= 3; want++ {
		select {
		case got := <-attempts:
			if got != want {
				t.Fatalf("got attempt %d, want %d", got, want)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for attempt %d", want)
		}
	}
}

func TestPanicIsCaught(t *testing.T) {
	attempts := make(chan int, 16)

	log, _ := zap.NewDevelopment()
	ctx, ctxC := context.WithCancel(context.Background())
	defer ctxC()

	attempt := 0
	New(ctx, log, func(ctx context.Context) error {
		attempt++
		attempts <- attempt
		if attempt == 1 {
			panic("borked")
		}
		Signal(ctx, SignalHealthy)
		<-ctx.Done()
		return ctx.Err()
	})

	deadline := time.After(10 * time.Second)
	for want := 1; want <= 2; want++ {
		select {
		case <-attempts:
		case <-deadline:
			t.Fatalf("timed out waiting for attempt %d", want)
		}
	}
}

func TestDoneRunnableIsNotRestarted(t *testing.T) {
	attempts := make(chan struct{}, 16)

	log, _ := zap.NewDevelopment()
	ctx, ctxC := context.WithCancel(context.Background())
	defer ctxC()

	New(ctx, log, func(ctx context.Context) error {
		if err := Run(ctx, "oneshot", func(ctx context.Context) error {
			attempts <- struct{}{}
			Signal(ctx, SignalDone)
			return nil
		}); err != nil {
			return err
		}
		Signal(ctx, SignalHealthy)
		<-ctx.Done()
		return ctx.Err()
	}, WithPropagatePanic)

	waitFor(t, attempts, "oneshot didn't run")

	// A wrongly restarted oneshot would come back well within the initial
	// backoff interval.
	select {
	case <-attempts:
		t.Fatal("oneshot was restarted after signaling Done")
	case <-time.After(2 * time.Second):
	}
}

func TestInvalidRunnableName(t *testing.T) {
	errC := make(chan error, 1)

	log, _ := zap.NewDevelopment()
	ctx, ctxC := context.WithCancel(context.Background())
	defer ctxC()

	New(ctx, log, func(ctx context.Context) error {
		errC <- Run(ctx, "Bad Name!", func(ctx context.Context) error {
			return nil
		})
		Signal(ctx, SignalHealthy)
		<-ctx.Done()
		return ctx.Err()
	}, WithPropagatePanic)

	select {
	case err := <-errC:
		if err == nil {
			t.Fatal("expected an error for an invalid runnable name")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for Run result")
	}
}
