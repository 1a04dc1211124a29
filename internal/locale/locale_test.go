package locale

import "testing"

func mustSet(t *testing.T, codes []string, def string) Set {
	t.Helper()
	s, err := NewSet(codes, def)
	if err != nil {
		t.Fatalf("NewSet(%v, %q): %v", codes, def, err)
	}
	return s
}

func TestNewSet_Valid(t *testing.T) {
	s := mustSet(t, []string{"en", "it"}, "en")
	if s.Default() != "en" {
		t.Errorf("Default: want en, got %q", s.Default())
	}
	if !s.Contains("it") {
		t.Error("Contains(it): want true")
	}
	if s.Contains("fr") {
		t.Error("Contains(fr): want false")
	}
}

func TestNewSet_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		codes []string
		def   string
	}{
		{"empty list", nil, "en"},
		{"default not member", []string{"en", "it"}, "fr"},
		{"three letters", []string{"eng"}, "eng"},
		{"uppercase", []string{"EN"}, "EN"},
		{"one letter", []string{"e"}, "e"},
		{"digits", []string{"e1"}, "e1"},
		{"duplicate", []string{"en", "en"}, "en"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSet(tc.codes, tc.def); err == nil {
				t.Fatalf("NewSet(%v, %q): want error, got nil", tc.codes, tc.def)
			}
		})
	}
}

func TestFromPath(t *testing.T) {
	s := mustSet(t, []string{"en", "it"}, "en")

	cases := []struct {
		path string
		loc  string
		ok   bool
	}{
		{"/en/blog", "en", true},
		{"/it", "it", true},
		{"/it/", "it", true},
		{"/fr/blog", "", false},
		{"/blog", "", false},
		{"/", "", false},
		{"", "", false},
		{"/english/blog", "", false},
		{"en/blog", "", false},
	}
	for _, tc := range cases {
		loc, ok := s.FromPath(tc.path)
		if loc != tc.loc || ok != tc.ok {
			t.Errorf("FromPath(%q) = (%q, %v), want (%q, %v)", tc.path, loc, ok, tc.loc, tc.ok)
		}
	}
}

func TestStripPath(t *testing.T) {
	s := mustSet(t, []string{"en", "it"}, "en")

	cases := []struct{ in, want string }{
		{"/en/cms/posts", "/cms/posts"},
		{"/it/", "/"},
		{"/en", "/"},
		{"/cms/posts", "/cms/posts"},
		{"/", "/"},
	}
	for _, tc := range cases {
		if got := s.StripPath(tc.in); got != tc.want {
			t.Errorf("StripPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
