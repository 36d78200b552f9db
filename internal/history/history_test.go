package history

import (
	"context"
	"testing"
)

func TestMemoryListsNewestFirstAndWraps(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()
	for _, ds := range []string{"a", "b", "a", "c"} {
		if err := m.Record(ctx, Entry{Dataset: ds, SQL: "SELECT 1"}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	all, err := m.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 || all[0].Dataset != "c" || all[2].Dataset != "b" {
		t.Fatalf("List() = %+v", all)
	}
	if all[0].ID != 4 || all[0].CreatedAt.IsZero() {
		t.Fatalf("newest entry = %+v", all[0])
	}

	onlyA, err := m.List(ctx, ListFilter{Dataset: "a", Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(onlyA) != 1 || onlyA[0].ID != 3 {
		t.Fatalf("List(a) = %+v", onlyA)
	}
}

func TestNormalizedLimit(t *testing.T) {
	cases := map[int]int{0: DefaultListLimit, -1: DefaultListLimit, 7: 7, MaxListLimit + 1: MaxListLimit}
	for in, want := range cases {
		if got := (ListFilter{Limit: in}).NormalizedLimit(); got != want {
			t.Fatalf("NormalizedLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
