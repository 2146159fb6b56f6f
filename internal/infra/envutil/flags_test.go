package envutil

import "testing"

func TestBoolOrParsesValue(t *testing.T) {
	t.Setenv("TOOLGATE_TEST_BOOL", "false")
	if got := BoolOr("TOOLGATE_TEST_BOOL", true); got {
		t.Fatalf("BoolOr=%v, want false", got)
	}
}

func TestBoolOrFallsBackWhenUnset(t *testing.T) {
	if got := BoolOr("TOOLGATE_TEST_BOOL_UNSET", true); !got {
		t.Fatalf("BoolOr=%v, want fallback true", got)
	}
}

func TestBoolOrFallsBackOnGarbage(t *testing.T) {
	t.Setenv("TOOLGATE_TEST_BOOL", "yes please")
	if got := BoolOr("TOOLGATE_TEST_BOOL", true); !got {
		t.Fatalf("BoolOr=%v, want fallback true", got)
	}
}

func TestPositiveIntOrParsesValue(t *testing.T) {
	t.Setenv("TOOLGATE_TEST_INT", " 15000 ")
	if got := PositiveIntOr("TOOLGATE_TEST_INT", 300000); got != 15000 {
		t.Fatalf("PositiveIntOr=%d, want 15000", got)
	}
}

func TestPositiveIntOrRejectsNonPositive(t *testing.T) {
	t.Setenv("TOOLGATE_TEST_INT", "0")
	if got := PositiveIntOr("TOOLGATE_TEST_INT", 300000); got != 300000 {
		t.Fatalf("PositiveIntOr=%d, want fallback 300000", got)
	}
	t.Setenv("TOOLGATE_TEST_INT", "-5")
	if got := PositiveIntOr("TOOLGATE_TEST_INT", 300000); got != 300000 {
		t.Fatalf("PositiveIntOr=%d, want fallback 300000", got)
	}
}

func TestPositiveIntOrFallsBackOnGarbage(t *testing.T) {
	t.Setenv("TOOLGATE_TEST_INT", "five minutes")
	if got := PositiveIntOr("TOOLGATE_TEST_INT", 300000); got != 300000 {
		t.Fatalf("PositiveIntOr=%d, want fallback 300000", got)
	}
}
