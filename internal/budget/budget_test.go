package budget

import "testing"

func Test_Estimate_RoundsUp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"12345678", 2},
	}
	for _, tc := range cases {
		if got := Estimate(tc.in); got != tc.want {
			t.Errorf("Estimate(%q): want %d, got %d", tc.in, tc.want, got)
		}
	}
}

func Test_EstimateAll_SkipsEmptyParts(t *testing.T) {
	t.Parallel()

	if got := EstimateAll("abcd", "", "efgh"); got != 2 {
		t.Errorf("want 2, got %d", got)
	}
	if got := EstimateAll(); got != 0 {
		t.Errorf("want 0 for no parts, got %d", got)
	}
}
