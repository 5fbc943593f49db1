package storage

import "testing"

func TestCoerceValue(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		in      any
		logical string
		want    any
	}{
		{"duck key", "42", TypeKey, int64(42)},
		{"seq from float", float64(3), TypeSequence, int64(3)},
		{"number from text", "2.5", TypeNumber, 2.5},
		{"number from int", int64(4), TypeNumber, float64(4)},
		{"sqlite bool", int64(1), TypeBoolean, true},
		{"duck bool", "false", TypeBoolean, false},
		{"text from int", int64(12), TypeText, "12"},
		{"date stays text", "2024-01-02", TypeDate, "2024-01-02"},
		{"bad number passes through", "n/a", TypeNumber, "n/a"},
		{"null", nil, TypeNumber, nil},
		{"bytes", []byte("77"), TypeInteger, int64(77)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CoerceValue(tc.in, tc.logical); got != tc.want {
				t.Fatalf("got %#v want %#v", got, tc.want)
			}
		})
	}
}

func TestKeyString(t *testing.T) {
	t.Parallel()
	if got := KeyString([]byte(" 12 ")); got != "12" {
		t.Fatalf("got %q", got)
	}
	if got := KeyString(int32(5)); got != "5" {
		t.Fatalf("got %q", got)
	}
	if got := KeyString(nil); got != "" {
		t.Fatalf("got %q", got)
	}
}
