package sync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestParseISO_AcceptsNanoAndSecondPrecision(t *testing.T) {
	if _, err := parseISO("2026-01-02T03:04:05.123456789Z"); err != nil {
		t.Errorf("nano precision: %v", err)
	}
	if _, err := parseISO("2026-01-02T03:04:05Z"); err != nil {
		t.Errorf("second precision: %v", err)
	}
	if _, err := parseISO("not-a-timestamp"); err == nil {
		t.Error("expected error for malformed timestamp")
	}
}

// TestTsLess_NotFooledByTrailingZeroTrim exercises the exact bug class the
// parseISO comment warns about: two RFC3339Nano strings where the textually
// "later" fractional digits still represent an earlier instant once the
// trailing zero is trimmed by formatting.
func TestTsLess_NotFooledByTrailingZeroTrim(t *testing.T) {
	earlier := "2026-01-02T03:04:05.1Z" // = .100000000
	later := "2026-01-02T03:04:05.15Z"  // = .150000000, textually looks "less" than .1Z by naive length compare in some schemes
	if !tsLess(earlier, later) {
		t.Fatalf("expected %q before %q", earlier, later)
	}
	if tsLess(later, earlier) {
		t.Fatalf("expected %q not before %q", later, earlier)
	}
	if tsEqual(earlier, later) {
		t.Fatalf("expected %q != %q", earlier, later)
	}
}

func TestReduceLatest_OrderIndependent(t *testing.T) {
	mk := func(id, ts string) line {
		idBytes, _ := json.Marshal(id)
		return line{V: 1, Op: opUpsert, TS: ts, ID: idBytes, raw: id + ts}
	}
	keyOf := func(l line) (string, bool) {
		var id string
		if err := json.Unmarshal(l.ID, &id); err != nil {
			return "", false
		}
		return id, true
	}

	a := []line{
		mk("x", "2026-01-01T00:00:00Z"),
		mk("x", "2026-01-01T00:00:05Z"),
		mk("x", "2026-01-01T00:00:02Z"),
	}
	b := []line{a[2], a[0], a[1]}

	ra := reduceLatest(a, keyOf)
	rb := reduceLatest(b, keyOf)

	if ra["x"].TS != "2026-01-01T00:00:05Z" {
		t.Fatalf("order a: got ts %q, want the latest", ra["x"].TS)
	}
	if ra["x"].TS != rb["x"].TS {
		t.Fatalf("reduction depends on input order: a=%q b=%q", ra["x"].TS, rb["x"].TS)
	}
}

func TestReduceLatest_TiesBreakOnRawText(t *testing.T) {
	mk := func(id, raw string) line {
		idBytes, _ := json.Marshal(id)
		return line{V: 1, Op: opUpsert, TS: "2026-01-01T00:00:00Z", ID: idBytes, raw: raw}
	}
	lines := []line{mk("x", "zzz"), mk("x", "aaa")}
	got := reduceLatest(lines, func(l line) (string, bool) {
		var id string
		json.Unmarshal(l.ID, &id)
		return id, true
	})
	if got["x"].raw != "aaa" {
		t.Errorf("tie-break raw = %q, want the lexicographically smaller %q", got["x"].raw, "aaa")
	}
}

func TestDecodeLine_RejectsUnknownOp(t *testing.T) {
	if _, err := decodeLine(`{"v":1,"op":"bogus","ts":"2026-01-01T00:00:00Z"}`); err == nil {
		t.Error("expected error for unknown op")
	}
}

func TestDecodeLine_RejectsUnparseableTimestamp(t *testing.T) {
	if _, err := decodeLine(`{"v":1,"op":"upsert","ts":"not-a-date"}`); err == nil {
		t.Error("expected error for unparseable ts")
	}
}

func TestReadLines_MissingFileIsEmptyNotError(t *testing.T) {
	lines, parseErrors, err := readLines(filepath.Join(t.TempDir(), "does-not-exist.jsonl"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(lines) != 0 || parseErrors != 0 {
		t.Fatalf("expected empty result, got %d lines / %d errors", len(lines), parseErrors)
	}
}

func TestReadLines_SkipsMalformedLinesWithoutAborting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.jsonl")
	content := `{"v":1,"op":"upsert","ts":"2026-01-01T00:00:00Z","id":"a"}
not json at all
{"v":1,"op":"upsert","ts":"2026-01-01T00:00:01Z","id":"b"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	lines, parseErrors, err := readLines(path)
	if err != nil {
		t.Fatalf("readLines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 valid lines, got %d", len(lines))
	}
	if parseErrors != 1 {
		t.Fatalf("expected 1 parse error, got %d", parseErrors)
	}
}

func TestWriteLinesAtomic_ReplacesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	if err := writeLinesAtomic(path, []string{"one", "two"}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := writeLinesAtomic(path, []string{"three"}); err != nil {
		t.Fatalf("second write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "three\n" {
		t.Fatalf("got %q, want %q", string(data), "three\n")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "out.jsonl" {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}
