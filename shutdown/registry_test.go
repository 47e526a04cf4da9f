package shutdown

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistryRunsInPriorityOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	add := func(name string, prio int) {
		r.Register(name, prio, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	add("logger", PriorityLogger)
	add("database", PriorityStorage)
	add("http", PriorityHTTP)
	add("pipeline", PriorityPipeline)
	add("history", PriorityStorage)

	want := []string{"http", "pipeline", "database", "history", "logger"}
	if diff := cmp.Diff(want, r.Names()); diff != "" {
		t.Errorf("Names (-want +got):\n%s", diff)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestRegistryJoinsErrorsAndContinues(t *testing.T) {
	r := NewRegistry()
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	ranB := false
	r.Register("a", 1, func(context.Context) error { return errA })
	r.Register("b", 2, func(context.Context) error { ranB = true; return nil })
	r.Register("c", 3, func(context.Context) error { return errC })

	err := r.Run(context.Background())
	if !errors.Is(err, errA) || !errors.Is(err, errC) {
		t.Errorf("Run() = %v, want both errors", err)
	}
	if !ranB {
		t.Error("handler after a failure did not run")
	}
}

func TestRegistryRunsOnce(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("once", 1, func(context.Context) error { calls++; return nil })

	_ = r.Run(context.Background())
	_ = r.Run(context.Background())
	r.Register("late", 1, func(context.Context) error { calls++; return nil })

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, late registration accepted", r.Len())
	}
}
