package shard

import (
	"strings"
	"testing"
)

func TestPartitionPK_SingleShard(t *testing.T) {
	if got := PartitionPK("company#c1", "order#o1", 1); got != "company#c1#00" {
		t.Errorf("expected company#c1#00, got %q", got)
	}
	if got := PartitionPK("company#c1", "order#o1", 0); got != "company#c1#00" {
		t.Errorf("expected single shard for numShards 0, got %q", got)
	}
}

func TestPartitionPK_Deterministic(t *testing.T) {
	a := PartitionPK("company#c1", "order#o1", 16)
	b := PartitionPK("company#c1", "order#o1", 16)
	if a != b {
		t.Errorf("expected stable shard assignment, got %q and %q", a, b)
	}
	if !strings.HasPrefix(a, "company#c1#") {
		t.Errorf("expected base prefix, got %q", a)
	}
}

func TestPartitionPK_WithinRange(t *testing.T) {
	pks := make(map[string]bool)
	for _, pk := range AllPKs("company#c1", 8) {
		pks[pk] = true
	}
	for i := 0; i < 100; i++ {
		member := "order#o" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		pk := PartitionPK("company#c1", member, 8)
		if !pks[pk] {
			t.Fatalf("member %q landed outside the shard set: %q", member, pk)
		}
	}
}

func TestAllPKs(t *testing.T) {
	got := AllPKs("company#c1", 3)
	want := []string{"company#c1#00", "company#c1#01", "company#c1#02"}
	if len(got) != len(want) {
		t.Fatalf("expected %d shards, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("shard %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestAllPKs_SingleShard(t *testing.T) {
	got := AllPKs("company", 1)
	if len(got) != 1 || got[0] != "company#00" {
		t.Errorf("expected single shard company#00, got %v", got)
	}
}
