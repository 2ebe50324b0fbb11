package validate

import (
	"strings"
	"testing"
)

func TestNameAcceptsOrdinaryValues(t *testing.T) {
	if err := Name("web-server"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNameRejections(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"too long":     strings.Repeat("a", 101),
		"dot":          ".",
		"dotdot":       "..",
		"leading ws":   " web",
		"trailing ws":  "web ",
		"separator":    "a/b",
		"forbidden":    "a:b",
		"control char": "a\tb",
	}
	for label, in := range cases {
		if err := Name(in); err == nil {
			t.Errorf("%s: expected error for %q", label, in)
		}
	}
}

func TestProjectRejectsReservedDeviceNames(t *testing.T) {
	for _, n := range []string{"con", "PRN", "com1", "LPT9"} {
		if err := Project(n); err == nil {
			t.Errorf("expected reserved-name rejection for %q", n)
		}
	}
	if err := Project("demo"); err != nil {
		t.Fatalf("unexpected error for ordinary project: %v", err)
	}
}
