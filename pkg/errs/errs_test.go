package errs

import (
	"errors"
	"testing"
)

func TestKindOfUnwraps(t *testing.T) {
	base := errors.New("boom")
	wrapped := New(KindNetwork, "loader.Fetch", base)
	if KindOf(wrapped) != KindNetwork {
		t.Fatalf("KindOf = %v, want KindNetwork", KindOf(wrapped))
	}
	if !errors.Is(wrapped, base) {
		t.Fatal("errors.Is should see through to the wrapped base error")
	}
}

func TestKindOfUnknownForPlainError(t *testing.T) {
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("plain errors should classify as KindUnknown")
	}
}

func TestIsFatal(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindNetwork, true},
		{KindCache, true},
		{KindEvolve, true},
		{KindDefinition, true},
		{KindSandbox, false},
		{KindUnknown, false},
	}
	for _, tc := range cases {
		err := New(tc.kind, "op", errors.New("x"))
		if got := IsFatal(err); got != tc.want {
			t.Fatalf("IsFatal(%v) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestIsSkipAfterEvolve(t *testing.T) {
	if !IsSkipAfterEvolve(New(KindEvolve, "op", errors.New("x"))) {
		t.Fatal("KindEvolve should be skip-after-evolve")
	}
	if IsSkipAfterEvolve(New(KindSandbox, "op", errors.New("x"))) {
		t.Fatal("KindSandbox should not be skip-after-evolve")
	}
}

func TestWrapFormats(t *testing.T) {
	err := Wrap(KindDefinition, "definition.Load", "tag %q missing", "Contract-Src")
	if err.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
}
