package textdiff

import "testing"

func TestComputeDelta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		prev string
		curr string
		want Delta
	}{
		{name: "identical", prev: "Hello", curr: "Hello", want: Delta{}},
		{name: "both empty", prev: "", curr: "", want: Delta{}},
		{name: "from empty", prev: "", curr: "Hel", want: Delta{Text: "Hel"}},
		{name: "append", prev: "Hel", curr: "Hello", want: Delta{Text: "lo"}},
		{name: "retokenized last char", prev: "abc", curr: "abd", want: Delta{Backtrack: 1, Text: "d"}},
		{name: "shrunk", prev: "abc", curr: "ab", want: Delta{Backtrack: 1}},
		{name: "to empty", prev: "abc", curr: "", want: Delta{Backtrack: 3}},
		{name: "rewrite and grow", prev: "I am", curr: "I'm here", want: Delta{Backtrack: 3, Text: "'m here"}},
		{
			name: "multibyte divergence backs up to rune start",
			prev: "café",
			curr: "cafê!",
			want: Delta{Backtrack: 2, Text: "ê!"},
		},
		{
			name: "replacement rune resolved",
			prev: "ok�",
			curr: "ok你",
			want: Delta{Backtrack: 3, Text: "你"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Compute(tc.prev, tc.curr)
			if got != tc.want {
				t.Fatalf("Compute(%q, %q) = %+v, want %+v", tc.prev, tc.curr, got, tc.want)
			}
			if text := ComputeDelta(tc.prev, tc.curr); text != tc.want.Text {
				t.Fatalf("ComputeDelta(%q, %q) = %q, want %q", tc.prev, tc.curr, text, tc.want.Text)
			}
			if applied := Apply(tc.prev, got); applied != tc.curr {
				t.Fatalf("Apply(%q, %+v) = %q, want %q", tc.prev, got, applied, tc.curr)
			}
		})
	}
}

func TestComputeDeltaExtensionProperty(t *testing.T) {
	t.Parallel()

	bases := []string{"", "a", "Hello", "你好", "line\n", "\xe4\xbd"}
	tails := []string{"", "!", " world", "é", "\xa0"}
	for _, a := range bases {
		for _, tail := range tails {
			b := a + tail
			d := Compute(a, b)
			if d.Correcting() {
				t.Fatalf("Compute(%q, %q) reported a correction: %+v", a, b, d)
			}
			if a+d.Text != b {
				t.Fatalf("%q + %q != %q", a, d.Text, b)
			}
		}
	}
}

func TestApplyClampsBacktrack(t *testing.T) {
	t.Parallel()

	cases := []struct {
		shown string
		delta Delta
		want  string
	}{
		{shown: "ab", delta: Delta{Backtrack: 10, Text: "x"}, want: "x"},
		{shown: "ab", delta: Delta{Backtrack: -1, Text: "c"}, want: "abc"},
		{shown: "", delta: Delta{Backtrack: -5}, want: ""},
	}
	for _, tc := range cases {
		if got := Apply(tc.shown, tc.delta); got != tc.want {
			t.Fatalf("Apply(%q, %+v) = %q, want %q", tc.shown, tc.delta, got, tc.want)
		}
	}
}

func TestStableLen(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int
	}{
		{in: "", want: 0},
		{in: "hello", want: 5},
		{in: "你好", want: 6},
		{in: "he\xe4\xbd", want: 2},
		{in: "he\xe4", want: 2},
		{in: "ok�", want: 2},
		{in: "ok��", want: 2},
		{in: "a\x80", want: 1},
	}
	for _, tc := range cases {
		if got := StableLen(tc.in); got != tc.want {
			t.Fatalf("StableLen(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestDeltaTerminal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		shown string
		delta Delta
		want  string
	}{
		{name: "append", shown: "ab", delta: Delta{Text: "c"}, want: "c"},
		{name: "replace one", shown: "abc", delta: Delta{Backtrack: 1, Text: "d"}, want: "\bd"},
		{name: "erase wide rune", shown: "ab你", delta: Delta{Backtrack: 3}, want: "\b \b"},
		{name: "shorter replacement", shown: "abcd", delta: Delta{Backtrack: 3, Text: "x"}, want: "\b\b\bx  \b\b"},
		{name: "negative backtrack", shown: "ab", delta: Delta{Backtrack: -2, Text: "c"}, want: "c"},
		{name: "across one line", shown: "one\ntwo", delta: Delta{Backtrack: 5, Text: "x"}, want: "\x1b[1A\r\x1b[Jonx"},
		{name: "across two lines", shown: "a\nb\nc", delta: Delta{Backtrack: 4, Text: "!"}, want: "\x1b[2A\r\x1b[Ja!"},
		{name: "resume mid reply", shown: "l1\nl2\nab", delta: Delta{Backtrack: 4, Text: "X"}, want: "\x1b[1A\r\x1b[JlX"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.delta.Terminal(tc.shown); got != tc.want {
				t.Fatalf("Terminal(%q) = %q, want %q", tc.shown, got, tc.want)
			}
		})
	}
}

func FuzzCompute(f *testing.F) {
	f.Add("", "")
	f.Add("abc", "abd")
	f.Add("Hel", "Hello")
	f.Add("café", "cafê")
	f.Add("\xff\xfe", "\xff")
	f.Fuzz(func(t *testing.T, prev, curr string) {
		d := Compute(prev, curr)
		if got := Apply(prev, d); got != curr {
			t.Fatalf("Apply(%q, Compute) = %q, want %q", prev, got, curr)
		}
		if Compute(curr, curr) != (Delta{}) {
			t.Fatalf("Compute(%q, %q) not empty", curr, curr)
		}
	})
}
