package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/tasktreehq/tt/internal/recipe"
)

func TestCollectSkipsUnscheduledTasks(t *testing.T) {
	rec := &recipe.Recipe{Tasks: map[string]*recipe.Task{
		"build": {Name: "build"},
		"nightly": {Name: "nightly", Schedule: "0 2 * * *"},
	}}

	entries, err := Collect(rec)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskName != "nightly" {
		t.Fatalf("expected only the scheduled task, got %+v", entries)
	}
}

func TestCollectRejectsBadExpression(t *testing.T) {
	rec := &recipe.Recipe{Tasks: map[string]*recipe.Task{
		"broken": {Name: "broken", Schedule: "not a cron expression"},
	}}
	if _, err := Collect(rec); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	entries := []Entry{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, entries, func(string) error { return nil }) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
