package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAsyncRecorder_DrainsOnClose(t *testing.T) {
	store := openTestDB(t)
	rec := NewAsyncRecorder(store, 16, func(g Generation, err error) {
		t.Errorf("unexpected write error for %s: %v", g.ID, err)
	})

	for i := 0; i < 10; i++ {
		if err := rec.InsertGeneration(context.Background(), sampleGeneration(fmt.Sprintf("a%d", i), time.Now())); err != nil {
			t.Fatalf("InsertGeneration: %v", err)
		}
	}

	if !rec.Close(5 * time.Second) {
		t.Fatal("recorder did not drain in time")
	}

	n, err := store.CountGenerations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("stored %d generations, want 10", n)
	}

	if err := rec.InsertGeneration(context.Background(), sampleGeneration("late", time.Now())); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got: %v", err)
	}
	if !rec.Close(time.Second) {
		t.Error("second Close should return immediately")
	}
}

func TestAsyncRecorder_ReportsErrors(t *testing.T) {
	store := openTestDB(t)
	errs := make(chan error, 1)
	rec := NewAsyncRecorder(store, 4, func(_ Generation, err error) { errs <- err })

	// missing id fails inside InsertGeneration
	if err := rec.InsertGeneration(context.Background(), Generation{}); err != nil {
		t.Fatal(err)
	}
	rec.Close(5 * time.Second)

	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected an error")
		}
	default:
		t.Error("onError was not called")
	}
}
