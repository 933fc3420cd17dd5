package entity_test

import (
	"errors"
	"testing"

	"github.com/jacentio/arbor/entity"
	"github.com/jacentio/arbor/key"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := entity.NewRegistry()
	inst := mustNew(t, entity.Config{
		Coordinate: key.NewCoordinate("company"),
		Backend:    &fakeBackend{},
	})

	if err := reg.Register(inst); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := reg.Get(key.NewCoordinate("company"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != inst {
		t.Error("expected the registered instance back")
	}
}

func TestRegistry_DuplicateCoordinate(t *testing.T) {
	reg := entity.NewRegistry()
	inst := mustNew(t, entity.Config{
		Coordinate: key.NewCoordinate("company"),
		Backend:    &fakeBackend{},
	})

	if err := reg.Register(inst); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}

	err := reg.Register(inst)
	var opErr *entity.Error
	if !errors.As(err, &opErr) || opErr.Kind != entity.KindConfig {
		t.Fatalf("expected configuration error on duplicate, got %v", err)
	}
}

func TestRegistry_NilInstance(t *testing.T) {
	reg := entity.NewRegistry()
	if err := reg.Register(nil); err == nil {
		t.Fatal("expected error for nil instance")
	}
}

func TestRegistry_MissingCoordinate(t *testing.T) {
	reg := entity.NewRegistry()
	_, err := reg.Get(key.NewCoordinate("order", "company"))
	var opErr *entity.Error
	if !errors.As(err, &opErr) || opErr.Kind != entity.KindConfig {
		t.Fatalf("expected configuration error for missing entry, got %v", err)
	}
}

func TestRegistry_SameOwnTypeDifferentAncestors(t *testing.T) {
	reg := entity.NewRegistry()
	global := mustNew(t, entity.Config{
		Coordinate: key.NewCoordinate("setting"),
		Backend:    &fakeBackend{},
	})
	scoped := mustNew(t, entity.Config{
		Coordinate: key.NewCoordinate("setting", "company"),
		Backend:    &fakeBackend{},
	})

	if err := reg.Register(global); err != nil {
		t.Fatalf("register global: %v", err)
	}
	if err := reg.Register(scoped); err != nil {
		t.Fatalf("register scoped: %v", err)
	}

	got, err := reg.Get(key.NewCoordinate("setting", "company"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != scoped {
		t.Error("expected the company-scoped instance")
	}
}

func TestRegistry_Scopes(t *testing.T) {
	reg := entity.NewRegistry()
	coord := key.NewCoordinate("company")

	live := mustNew(t, entity.Config{Coordinate: coord, Backend: &fakeBackend{}})
	test := mustNew(t, entity.Config{Coordinate: coord, Backend: &fakeBackend{}})

	if err := reg.Register(live); err != nil {
		t.Fatalf("register default scope: %v", err)
	}
	if err := reg.Register(test, entity.WithScope("test")); err != nil {
		t.Fatalf("register test scope: %v", err)
	}

	got, err := reg.GetScoped("test", coord)
	if err != nil {
		t.Fatalf("GetScoped failed: %v", err)
	}
	if got != test {
		t.Error("expected the test-scoped instance")
	}

	got, err = reg.Get(coord)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != live {
		t.Error("expected the default-scope instance")
	}
}
