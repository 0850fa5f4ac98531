package hashtable

import "testing"

func TestSetGetDel(t *testing.T) {
	t.Parallel()

	tbl := New[int, string](4)

	if _, ok := tbl.Get(1); ok {
		t.Fatalf("Get on empty table found something")
	}

	cases := []struct {
		key   int
		value string
	}{
		{1, "one"},
		{2, "two"},
		{5, "five"}, // collides with 1 in a 4-bucket table
	}

	for _, c := range cases {
		if _, existed := tbl.Set(c.key, c.value); existed {
			t.Fatalf("Set(%d) reported pre-existing key", c.key)
		}
	}

	for _, c := range cases {
		t.Run(c.value, func(t *testing.T) {
			got, ok := tbl.Get(c.key)
			if !ok || got != c.value {
				t.Fatalf("Get(%d) = %q, %v; want %q, true", c.key, got, ok, c.value)
			}
		})
	}

	if n := tbl.Len(); n != len(cases) {
		t.Fatalf("Len() = %d; want %d", n, len(cases))
	}

	old, existed := tbl.Set(1, "uno")
	if !existed || old != "one" {
		t.Fatalf("Set(1, uno) = %q, %v; want one, true", old, existed)
	}

	tbl.Del(2)
	if _, ok := tbl.Get(2); ok {
		t.Fatalf("Get(2) found deleted key")
	}
	if n := tbl.Len(); n != len(cases)-1 {
		t.Fatalf("Len() after Del = %d; want %d", n, len(cases)-1)
	}
}

func TestIterStopsEarly(t *testing.T) {
	t.Parallel()

	tbl := New[int, int](8)
	for i := 0; i < 20; i++ {
		tbl.Set(i, i*i)
	}

	seen := 0
	tbl.Iter(func(k, v int) bool {
		seen++
		return seen < 3
	})
	if seen != 3 {
		t.Fatalf("Iter visited %d entries; want exactly 3 before stopping", seen)
	}
}
