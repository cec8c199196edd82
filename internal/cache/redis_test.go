package cache

import "testing"

func TestKeyIsStablePerScript(t *testing.T) {
	a := key("er", "students enroll in courses")
	b := key("er", "students enroll in courses")
	if a != b {
		t.Fatalf("same script produced different keys: %q vs %q", a, b)
	}

	c := key("er", "a different script")
	if a == c {
		t.Fatalf("different scripts collided on %q", a)
	}

	d := key("normalization", "students enroll in courses")
	if a == d {
		t.Fatalf("different topics collided on %q", a)
	}
}
