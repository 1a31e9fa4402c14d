package guard

import (
	"strings"
	"testing"
)

func TestSpamFilter_LengthBounds(t *testing.T) {
	sf := NewSpamFilter()

	cases := []struct {
		name string
		text string
		spam bool
	}{
		{"too short", "hi", true},
		{"minimum length", "hey", false},
		{"normal", "когда открыта школа?", false},
		{"too long", strings.Repeat("а", 2001), true},
		{"at limit", strings.Repeat("а", 2000), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sf.IsSpam("user-"+tc.name, tc.text); got != tc.spam {
				t.Errorf("IsSpam(%q) = %v, want %v", tc.text, got, tc.spam)
			}
		})
	}
}

func TestSpamFilter_TripleRepeat(t *testing.T) {
	sf := NewSpamFilter()

	if sf.IsSpam("u1", "same message") {
		t.Fatal("first message should pass")
	}
	if sf.IsSpam("u1", "same message") {
		t.Fatal("second identical message should pass")
	}
	if !sf.IsSpam("u1", "same message") {
		t.Error("third identical message in a row should be spam")
	}
}

func TestSpamFilter_RepeatInterrupted(t *testing.T) {
	sf := NewSpamFilter()

	sf.IsSpam("u1", "same message")
	sf.IsSpam("u1", "same message")
	if sf.IsSpam("u1", "a different one") {
		t.Error("two identical then a different message is not spam")
	}
	if sf.IsSpam("u1", "same message") {
		t.Error("buffer no longer holds three identical messages")
	}
}

func TestSpamFilter_RepeatIsolatedPerUser(t *testing.T) {
	sf := NewSpamFilter()

	sf.IsSpam("u1", "same message")
	sf.IsSpam("u1", "same message")
	if sf.IsSpam("u2", "same message") {
		t.Error("repetition must be tracked per user")
	}
}

func TestSpamFilter_Blacklist(t *testing.T) {
	sf := NewSpamFilter()

	if sf.IsSpam("u1", "a perfectly fine question") {
		t.Fatal("unexpected spam verdict before blacklisting")
	}

	sf.AddToBlacklist("u1")
	if !sf.IsSpam("u1", "a perfectly fine question") {
		t.Error("blacklisted user must always be spam")
	}
	if sf.IsSpam("u2", "a perfectly fine question") {
		t.Error("blacklist must not affect other users")
	}
}

func TestSpamFilter_ShortMessagesStillFillBuffer(t *testing.T) {
	sf := NewSpamFilter()

	// Length-rejected calls still enter the ring buffer.
	sf.IsSpam("u1", "hi")
	sf.IsSpam("u1", "hi")
	sf.IsSpam("u1", "hello there")
	if sf.IsSpam("u1", "hello there") {
		t.Error("buffer should hold hi/hello/hello, not a triple")
	}
}
