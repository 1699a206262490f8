package registry_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/coreflow/backbone/internal/jobqueue/registry"
)

type greetArgs struct {
	Name string `json:"name"`
}

func TestRegister_DecodesArgumentsAndRuns(t *testing.T) {
	r := registry.New()
	var got string
	registry.Register(r, "greet", func(ctx context.Context, args greetArgs) error {
		got = args.Name
		return nil
	})

	raw, _ := json.Marshal(greetArgs{Name: "ada"})
	if err := r.Execute(context.Background(), "greet", raw); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got != "ada" {
		t.Fatalf("expected handler to see decoded args, got %q", got)
	}
}

func TestExecute_UnknownJobTypeIsPermanent(t *testing.T) {
	r := registry.New()
	err := r.Execute(context.Background(), "nonexistent", nil)
	if err == nil {
		t.Fatalf("expected an error for an unregistered job type")
	}
	if !registry.IsPermanent(err) {
		t.Fatalf("expected unknown job type to be a permanent failure")
	}
}

func TestExecute_MalformedArgumentsIsPermanent(t *testing.T) {
	r := registry.New()
	registry.Register(r, "greet", func(ctx context.Context, args greetArgs) error { return nil })

	err := r.Execute(context.Background(), "greet", json.RawMessage(`not json`))
	if err == nil || !registry.IsPermanent(err) {
		t.Fatalf("expected malformed arguments to be a permanent failure, got %v", err)
	}
}

func TestIsPermanent_DistinguishesRetryable(t *testing.T) {
	if registry.IsPermanent(nil) {
		t.Fatalf("nil error is not a failure at all")
	}
	if registry.IsPermanent(registry.TryAgainLater("later")) {
		t.Fatalf("TryAgainLater should not be classified permanent")
	}
	if !registry.IsPermanent(registry.FailPermanently("nope")) {
		t.Fatalf("FailPermanently should be classified permanent")
	}
	if !registry.IsPermanent(errors.New("raw, unclassified error")) {
		t.Fatalf("an unclassified error defaults to permanent")
	}
}

func TestNames_ListsEveryRegisteredJobType(t *testing.T) {
	r := registry.New()
	registry.Register(r, "a", func(ctx context.Context, args struct{}) error { return nil })
	registry.Register(r, "b", func(ctx context.Context, args struct{}) error { return nil })

	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d: %v", len(names), names)
	}
}
