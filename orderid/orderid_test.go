package orderid

import "testing"

func TestBuildParseRoundTrip(t *testing.T) {
	id := Build("intent-123", 4, 2)
	if id != "intent-123#4#2" {
		t.Fatalf("unexpected id: %s", id)
	}

	parsed, ok := Parse(id)
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if parsed.IntentID != "intent-123" || parsed.SliceIndex != 4 || parsed.RetryCount != 2 {
		t.Fatalf("unexpected parsed value: %+v", parsed)
	}
}

func TestBuildDeterministic(t *testing.T) {
	a := Build("intent-1", 0, 0)
	b := Build("intent-1", 0, 0)
	if a != b {
		t.Fatalf("expected identical ids, got %s vs %s", a, b)
	}
}

func TestParseForeignIdReturnsSentinel(t *testing.T) {
	cases := []string{
		"",
		"not-our-format",
		"too#many#parts#here",
		"intent#abc#0",
		"intent#0#xyz",
		"#0#0",
	}
	for _, c := range cases {
		if _, ok := Parse(c); ok {
			t.Errorf("expected parse failure for %q", c)
		}
		if idx := SliceIndex(c); idx != invalidSliceIndex {
			t.Errorf("expected sentinel for %q, got %d", c, idx)
		}
	}
}

func TestSliceIndexAndRetryCount(t *testing.T) {
	id := Build("abc", 7, 3)
	if SliceIndex(id) != 7 {
		t.Errorf("expected slice index 7, got %d", SliceIndex(id))
	}
	if RetryCount(id) != 3 {
		t.Errorf("expected retry count 3, got %d", RetryCount(id))
	}
}

func TestContainsDelim(t *testing.T) {
	if !ContainsDelim("abc#def") {
		t.Error("expected delimiter detected")
	}
	if ContainsDelim("abcdef") {
		t.Error("expected no delimiter detected")
	}
}
