package fsm_test

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stateforward/fsm.go"
)

// benchNoBehavior is a no-op lifecycle action for benchmarks.
func benchNoBehavior(context.Context, fsm.Change[State]) {}

var activityWorkCounter atomic.Int64

// activityBehavior simulates a minimal activity that runs until it is cancelled.
func activityBehavior(ctx context.Context, _ fsm.Change[State]) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			runtime.Gosched()
			activityWorkCounter.Add(1)
		}
	}
}

func benchNoGuard() bool { return true }

// runFSMBenchmark fires first and second alternately and reports transitions per second.
func runFSMBenchmark(b *testing.B, sm *fsm.Machine[State], tm *fsm.TransitionManager[Trigger, State], first, second Trigger) {
	ctx := context.Background()
	defer sm.Stop(ctx)

	for i := 0; i < 1000; i++ {
		tm.Fire(ctx, first)
		tm.Fire(ctx, second)
	}
	activityWorkCounter.Store(0)

	b.ResetTimer()
	start := time.Now()
	for i := 0; i < b.N; i++ {
		if _, err := tm.Fire(ctx, first); err != nil {
			b.Fatal(err)
		}
		if _, err := tm.Fire(ctx, second); err != nil {
			b.Fatal(err)
		}
	}
	elapsed := time.Since(start)
	b.ReportMetric(float64(b.N)*2/elapsed.Seconds(), "trans/sec")
}

func benchMachine(b *testing.B) (*fsm.Machine[State], *fsm.TransitionManager[Trigger, State]) {
	sm, err := fsm.Initialize(states, A, false, fsm.Config{Name: b.Name()})
	if err != nil {
		b.Fatal(err)
	}
	tm := fsm.NewTransitionManager(sm, triggers)
	tm.MustConfigure(A).Permit(AtoB, B)
	tm.MustConfigure(B).Permit(BtoA, A)
	return sm, tm
}

func BenchmarkTransitions_NoEntryExitActivity(b *testing.B) {
	sm, tm := benchMachine(b)
	runFSMBenchmark(b, sm, tm, AtoB, BtoA)
}

func BenchmarkTransitions_EntryExit(b *testing.B) {
	sm, tm := benchMachine(b)
	for _, state := range []State{A, B} {
		sm.Entry(state, benchNoBehavior)
		sm.Exit(state, benchNoBehavior)
	}
	runFSMBenchmark(b, sm, tm, AtoB, BtoA)
}

func BenchmarkTransitions_EntryExitActivity(b *testing.B) {
	sm, tm := benchMachine(b)
	for _, state := range []State{A, B} {
		sm.Entry(state, benchNoBehavior)
		sm.Exit(state, benchNoBehavior)
		sm.Activity(state, activityBehavior)
	}
	runFSMBenchmark(b, sm, tm, AtoB, BtoA)
}

func BenchmarkGuardedTransitions(b *testing.B) {
	sm, tm := benchMachine(b)
	tm.MustConfigure(A).PermitIf(AlltoB, C, func() bool { return false })
	tm.MustConfigure(A).PermitIf(AlltoB, B, benchNoGuard)
	runFSMBenchmark(b, sm, tm, AlltoB, BtoA)
}

func BenchmarkGlobalTransitions(b *testing.B) {
	sm, tm := benchMachine(b)
	tm.PermitAll(AlltoA, A, fsm.Overwrite)
	tm.PermitAll(AlltoB, B, fsm.Overwrite)
	runFSMBenchmark(b, sm, tm, AlltoB, AlltoA)
}

func BenchmarkInvalidTriggerHandling(b *testing.B) {
	sm, tm := benchMachine(b)
	runFSMBenchmark(b, sm, tm, NotUsed, BtoA)
}
