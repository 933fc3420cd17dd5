package entity

import (
	"context"
	"testing"

	"github.com/jacentio/arbor/key"
)

func TestHooksMerged_CallerWinsSlotBySlot(t *testing.T) {
	var fired string
	defaults := Hooks{
		PreCreate: func(_ context.Context, item Item, _ Options) (Item, error) {
			fired = "default"
			return item, nil
		},
		PostCreate: func(context.Context, Item) error {
			fired = "defaultPost"
			return nil
		},
	}
	caller := Hooks{
		PreCreate: func(_ context.Context, item Item, _ Options) (Item, error) {
			fired = "caller"
			return item, nil
		},
	}

	merged := caller.merged(defaults)

	if _, err := merged.PreCreate(context.Background(), Item{}, nil); err != nil {
		t.Fatalf("PreCreate failed: %v", err)
	}
	if fired != "caller" {
		t.Errorf("expected caller hook to win, got %q", fired)
	}

	// The unoverridden slot keeps the default.
	if err := merged.PostCreate(context.Background(), Item{}); err != nil {
		t.Fatalf("PostCreate failed: %v", err)
	}
	if fired != "defaultPost" {
		t.Errorf("expected default hook to survive, got %q", fired)
	}
}

func TestDefaultHooks_StripWithoutMutatingInput(t *testing.T) {
	hooks := defaultHooks([]string{"status", "invoices"})

	in := Item{"id": "o1", "status": Item{"id": "s1"}, "invoices": []Item{}}
	out, err := hooks.PreCreate(context.Background(), in, nil)
	if err != nil {
		t.Fatalf("PreCreate failed: %v", err)
	}

	if _, present := out["status"]; present {
		t.Error("expected status stripped from output")
	}
	if _, present := out["invoices"]; present {
		t.Error("expected invoices stripped from output")
	}
	if _, present := in["status"]; !present {
		t.Error("input item must not be mutated")
	}

	patch, err := hooks.PreUpdate(context.Background(), key.NewPrimary("order", "o1"), in)
	if err != nil {
		t.Fatalf("PreUpdate failed: %v", err)
	}
	if _, present := patch["status"]; present {
		t.Error("expected status stripped from patch")
	}
}

func TestDefaultHooks_EmptyDerivedRegistersNothing(t *testing.T) {
	hooks := defaultHooks(nil)
	if hooks.PreCreate != nil || hooks.PreUpdate != nil {
		t.Error("expected no default hooks without derived properties")
	}
}
