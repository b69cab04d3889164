package match

// WinnerStrategy decides a winner seat (1 or 2) from the analysis verdict and
// the per-seat transcript contribution lengths. ok is false when the strategy
// cannot decide, in which case the next strategy in the ranked list is asked.
type WinnerStrategy interface {
	Decide(v Verdict, p1Len, p2Len int) (winner int, ok bool)
}

// verdictStrategy trusts the analysis adapter when it names a seat.
type verdictStrategy struct{}

func (verdictStrategy) Decide(v Verdict, _, _ int) (int, bool) {
	if v.Winner == 1 || v.Winner == 2 {
		return v.Winner, true
	}
	return 0, false
}

// lengthStrategy falls back to the longer transcript contribution. Equal
// lengths stay undecided.
type lengthStrategy struct{}

func (lengthStrategy) Decide(_ Verdict, p1Len, p2Len int) (int, bool) {
	switch {
	case p1Len > p2Len:
		return 1, true
	case p2Len > p1Len:
		return 2, true
	default:
		return 0, false
	}
}

// defaultStrategies is the ranked list: adapter verdict first, length
// fallback second. The first decisive strategy wins.
func defaultStrategies() []WinnerStrategy {
	return []WinnerStrategy{verdictStrategy{}, lengthStrategy{}}
}

// DecideWinner evaluates a ranked strategy list and returns the winning
// seat, or 0 when no strategy was decisive.
func DecideWinner(strategies []WinnerStrategy, v Verdict, p1Len, p2Len int) int {
	for _, s := range strategies {
		if w, ok := s.Decide(v, p1Len, p2Len); ok {
			return w
		}
	}
	return 0
}
