package capture

import (
	"strconv"
	"testing"
)

func TestMessageIDIsStable(t *testing.T) {
	t.Parallel()
	a := MessageID("09:05", "Alice", "hello")
	b := MessageID("09:05", "Alice", "hello")
	if a != b {
		t.Errorf("Expected identical ids, got %s and %s", a, b)
	}
}

func TestMessageIDDistinguishesFields(t *testing.T) {
	t.Parallel()
	ids := map[string]bool{}
	for _, triple := range [][3]string{
		{"09:05", "Alice", "hello"},
		{"09:06", "Alice", "hello"},
		{"09:05", "Bob", "hello"},
		{"09:05", "Alice", "hello!"},
		{"09:05", "您", "訊息"},
	} {
		id := MessageID(triple[0], triple[1], triple[2])
		if ids[id] {
			t.Errorf("collision for %v: %s", triple, id)
		}
		ids[id] = true
	}
}

func TestCyrb53FitsIn53Bits(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "a", "09:05-You-hello", "😀 surrogate pair"} {
		h := cyrb53(s, 0)
		if h >= 1<<53 {
			t.Errorf("cyrb53(%q) = %d exceeds 53 bits", s, h)
		}
		if id := MessageID("", "", s); id != strconv.FormatUint(cyrb53("--"+s, 0), 16) {
			t.Errorf("MessageID mismatch for %q", s)
		}
	}
	if cyrb53("x", 0) == cyrb53("x", 1) {
		t.Error("Expected seed to change the hash")
	}
}
