// ABOUTME: Tests for version constants
// ABOUTME: Checks the semantic version format and the user-facing product line
package version

import (
	"regexp"
	"strings"
	"testing"
)

func TestVersionIsSemantic(t *testing.T) {
	if !regexp.MustCompile(`^\d+\.\d+\.\d+$`).MatchString(Version) {
		t.Errorf("expected MAJOR.MINOR.PATCH, got %q", Version)
	}
}

func TestString(t *testing.T) {
	got := String()
	for _, want := range []string{Product, Version, Manufacturer} {
		if want == "" {
			t.Fatal("identification constant is empty")
		}
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
}
