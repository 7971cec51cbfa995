package textnlp

import (
	"reflect"
	"testing"
)

func TestNormalizeLocation(t *testing.T) {
	cases := []struct {
		raw  string
		want Place
		ok   bool
	}{
		{"Dhaka", Place{"Dhaka", "Dhaka"}, true},
		{"Gulshan, Dhaka, Bangladesh", Place{"Dhaka", "Dhaka"}, true},
		{"  chittagong city ", Place{"Chattogram", "Chattogram"}, true},
		{"CTG", Place{"Chattogram", "Chattogram"}, true},
		{"Bogra", Place{"Bogura", "Rajshahi"}, true},
		{"Sylhet Division", Place{"Sylhet", "Sylhet"}, true},
		{"Bangladesh, Jessore", Place{"Jashore", "Khulna"}, true},
		{"London", Place{}, false},
		{"", Place{}, false},
	}
	for _, tc := range cases {
		got, ok := NormalizeLocation(tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Errorf("NormalizeLocation(%q) = %+v,%v want %+v,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCleanLocation(t *testing.T) {
	if got := CleanLocation("  new   YORK "); got != "New York" {
		t.Fatalf("expected New York, got %q", got)
	}
}

func TestKeywords(t *testing.T) {
	text := "The app crashed. App login failed, login again and the app froze!"
	got := Keywords(text, 2)
	want := []string{"app", "login"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(Keywords("a an the 2024", 5)) != 0 {
		t.Fatal("stopwords and numbers should be dropped")
	}
}

func TestTopTermsAcrossDocs(t *testing.T) {
	got := TopTerms([]string{"card blocked", "card fee", "fee hike"}, 0)
	want := []string{"card", "fee", "blocked", "hike"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCountTerms(t *testing.T) {
	cases := []struct {
		text  string
		terms []string
		want  int
	}{
		{"How can I open an account?", []string{"how", "can i", "?", "when"}, 3},
		{"Showcase of the new branch", []string{"how"}, 0},
		{"Great service, thank you", []string{"great", "thank", "bad"}, 2},
	}
	for _, tc := range cases {
		if got := CountTerms(tc.text, tc.terms); got != tc.want {
			t.Errorf("CountTerms(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("short text", 50); got != "short text" {
		t.Fatalf("unexpected %q", got)
	}
	got := Excerpt("the quick brown fox jumps over the lazy dog", 20)
	if got != "the quick brown fox..." {
		t.Fatalf("unexpected %q", got)
	}
}
