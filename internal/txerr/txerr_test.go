package txerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_ErrorStringIncludesCauseWhenPresent(t *testing.T) {
	wrapped := Database("query failed", errors.New("disk full"))
	got := wrapped.Error()
	if got == "" {
		t.Fatal("expected a non-empty error string")
	}
	if !containsAll(got, "database", "query failed", "disk full") {
		t.Errorf("error string %q missing expected parts", got)
	}

	bare := Validation("bad field", nil)
	if containsAll(bare.Error(), "disk full") {
		t.Error("bare error should not reference a cause it doesn't have")
	}
}

func TestError_UnwrapReturnsCause(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := Database("query failed", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestEachConstructorAssignsACorrelationID(t *testing.T) {
	constructors := []*Error{
		NotFound("task", "tx-1"),
		Validation("bad", nil),
		Conflict("bad", nil),
		Database("bad", nil),
		Unavailable("bad", nil),
		Corruption("bad", nil),
	}
	for _, e := range constructors {
		if e.CorrelationID == "" {
			t.Errorf("expected a non-empty correlation id for kind %v", e.Kind)
		}
	}
}

func TestIs_MatchesWrappedKind(t *testing.T) {
	err := fmt.Errorf("context: %w", TaskNotFound("tx-missing"))
	if !Is(err, KindNotFound) {
		t.Error("expected Is to see through fmt.Errorf wrapping")
	}
	if Is(err, KindConflict) {
		t.Error("expected Is to reject a mismatched kind")
	}
}

func TestAs_ExtractsTheUnderlyingError(t *testing.T) {
	err := fmt.Errorf("context: %w", AlreadyClaimed("tx-1", "worker-a"))
	e, ok := As(err)
	if !ok {
		t.Fatal("expected As to find the wrapped *Error")
	}
	if e.Kind != KindConflict {
		t.Errorf("kind = %v, want %v", e.Kind, KindConflict)
	}
}

func TestNamedConstructors_ProduceExpectedKinds(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want Kind
	}{
		{"TaskNotFound", TaskNotFound("tx-1"), KindNotFound},
		{"RunNotFound", RunNotFound("run-1"), KindNotFound},
		{"LearningNotFound", LearningNotFound(1), KindNotFound},
		{"AnchorNotFound", AnchorNotFound(1), KindNotFound},
		{"InvalidTransition", InvalidTransition("a", "b"), KindConflict},
		{"CircularDependency", CircularDependency("a", "b"), KindConflict},
		{"AlreadyClaimed", AlreadyClaimed("tx-1", "worker-a"), KindConflict},
		{"ClaimNotOwned", ClaimNotOwned("1", "worker-a"), KindConflict},
		{"InvalidDate", InvalidDate("checkAt", "bogus"), KindValidation},
		{"LlmUnavailable", LlmUnavailable("timeout"), KindUnavailable},
		{"ExtractionUnavailable", ExtractionUnavailable("timeout"), KindUnavailable},
		{"EmbeddingUnavailable", EmbeddingUnavailable("timeout"), KindUnavailable},
	}
	for _, c := range cases {
		if c.err.Kind != c.want {
			t.Errorf("%s: kind = %v, want %v", c.name, c.err.Kind, c.want)
		}
	}
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
