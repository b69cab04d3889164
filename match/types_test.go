package match

import "testing"

func TestNormalizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Alice Smith", "alice smith"},
		{"  ALICE   smith ", "alice smith"},
		{"bob\tJONES", "bob jones"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeName(tc.in); got != tc.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestContributionLength(t *testing.T) {
	transcript := "Alice Smith: hello there\nBob Jones: hi\nALICE SMITH:   more words\nnarration line\n"
	if got := ContributionLength(transcript, "alice smith"); got != len("hello there")+len("more words") {
		t.Fatalf("alice length = %d", got)
	}
	if got := ContributionLength(transcript, "Bob Jones"); got != len("hi") {
		t.Fatalf("bob length = %d", got)
	}
	if got := ContributionLength(transcript, "Nobody"); got != 0 {
		t.Fatalf("absent speaker length = %d, want 0", got)
	}
}

func TestSpokeInTranscript(t *testing.T) {
	transcript := "Alice Smith: hello\n"
	if !SpokeInTranscript(transcript, "ALICE  SMITH") {
		t.Fatal("normalized speaker not detected")
	}
	if SpokeInTranscript(transcript, "Bob Jones") {
		t.Fatal("silent participant detected as speaker")
	}
}

func TestSlotSeatHelpers(t *testing.T) {
	s := &Slot{
		P1: &Participant{ID: 10, DisplayName: "a"},
		P2: &Participant{ID: 20, DisplayName: "b"},
	}
	if s.Seat(10) != 1 || s.Seat(20) != 2 || s.Seat(30) != 0 {
		t.Fatal("Seat mapping wrong")
	}
	if s.Opponent(10).ID != 20 || s.Opponent(20).ID != 10 || s.Opponent(30) != nil {
		t.Fatal("Opponent mapping wrong")
	}
	if !s.Assigned() {
		t.Fatal("Assigned false with both seats filled")
	}
	s.Accepted1 = true
	if !s.Accepted(1) || s.Accepted(2) {
		t.Fatal("Accepted seat mapping wrong")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusScheduled.Terminal() || StatusConfirmed.Terminal() {
		t.Fatal("non-terminal status reported terminal")
	}
	if !StatusCompleted.Terminal() || !StatusCanceled.Terminal() {
		t.Fatal("terminal status not reported terminal")
	}
}
