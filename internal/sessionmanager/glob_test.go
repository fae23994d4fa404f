package sessionmanager

import "testing"

func TestMatchOnlyEmptyMatchesEverything(t *testing.T) {
	if !matchOnly(nil, "anything/at/all.rs") {
		t.Fatal("nil pattern list should match everything")
	}
}

func TestMatchOnlyDoubleStar(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"src/**", "src/x.rs", true},
		{"src/**", "src/nested/deep/x.rs", true},
		{"src/**", "src", false},
		{"src/**/*.rs", "src/a/b/c.rs", true},
		{"src/**/*.rs", "src/a/b/c.txt", false},
		{"*.txt", "notes.txt", true},
		{"*.txt", "src/notes.txt", false},
		{"**", "anything/goes/here", true},
	}
	for _, c := range cases {
		got := matchGlob(c.pattern, c.path)
		if got != c.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}

func TestMatchOnlyAnyPatternMatches(t *testing.T) {
	if !matchOnly([]string{"*.go", "src/**"}, "src/x.rs") {
		t.Fatal("expected src/** to match src/x.rs")
	}
	if matchOnly([]string{"*.go"}, "src/x.rs") {
		t.Fatal("expected no match")
	}
}
