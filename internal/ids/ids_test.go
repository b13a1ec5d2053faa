package ids

import "testing"

func TestNewTaskID_HasExpectedShape(t *testing.T) {
	id := NewTaskID()
	if !IsTaskID(id) {
		t.Errorf("NewTaskID produced %q, which IsTaskID rejects", id)
	}
}

func TestNewTaskID_IsUnpredictable(t *testing.T) {
	a, b := NewTaskID(), NewTaskID()
	if a == b {
		t.Errorf("two successive NewTaskID calls returned the same id: %q", a)
	}
}

func TestDeterministicTaskID_SameSeedSameID(t *testing.T) {
	a := DeterministicTaskID("seed-1")
	b := DeterministicTaskID("seed-1")
	if a != b {
		t.Errorf("same seed produced different ids: %q vs %q", a, b)
	}
	c := DeterministicTaskID("seed-2")
	if a == c {
		t.Errorf("different seeds produced the same id: %q", a)
	}
}

func TestNewRunID_HasExpectedShape(t *testing.T) {
	id := NewRunID()
	if !IsRunID(id) {
		t.Errorf("NewRunID produced %q, which IsRunID rejects", id)
	}
}

func TestIsTaskID_RejectsWrongPrefixAndLength(t *testing.T) {
	cases := []string{"", "tx-", "tx-short", "run-abcdefgh", "tx-ABCDEFGH", "tx-abcdefghx"}
	for _, c := range cases {
		if IsTaskID(c) {
			t.Errorf("IsTaskID(%q) = true, want false", c)
		}
	}
}

func TestIsRunID_RejectsNonHexSuffix(t *testing.T) {
	if IsRunID("run-zzzzzzzz") {
		t.Error("expected a non-hex suffix to be rejected")
	}
	if !IsRunID("run-0123abcd") {
		t.Error("expected a valid 8-char hex suffix to be accepted")
	}
}
