package pricing

// Tier is one rung of the bid increment ladder: prices at or above FromCents
// step by StepCents until the next tier starts.
type Tier struct {
	FromCents int64
	StepCents int64
}

// Ladder must be sorted by FromCents with non-decreasing steps.
type Ladder []Tier

var DefaultIncrements = Ladder{
	{FromCents: 0, StepCents: 25},
	{FromCents: 1_000, StepCents: 100},
	{FromCents: 5_000, StepCents: 500},
	{FromCents: 20_000, StepCents: 1_000},
	{FromCents: 100_000, StepCents: 2_500},
	{FromCents: 500_000, StepCents: 5_000},
}

// Increment returns the step that applies at price.
func (l Ladder) Increment(price int64) int64 {
	if len(l) == 0 {
		return 1
	}
	step := l[0].StepCents
	for _, t := range l {
		if price < t.FromCents {
			break
		}
		step = t.StepCents
	}
	if step <= 0 {
		return 1
	}
	return step
}

// Valid reports whether the ladder is ordered and its steps never shrink.
func (l Ladder) Valid() bool {
	for i := 1; i < len(l); i++ {
		if l[i].FromCents <= l[i-1].FromCents || l[i].StepCents < l[i-1].StepCents {
			return false
		}
	}
	return true
}

// Standing is the locked state of an auction as the proxy engine sees it.
type Standing struct {
	CurrentPriceCents int64
	LeaderID          string
	LeaderMaxCents    int64
}

func (s Standing) HasLeader() bool {
	return s.LeaderID != ""
}

// Outcome is the state after a proxy bid has been resolved.
type Outcome struct {
	CurrentPriceCents int64
	LeaderID          string
	LeaderMaxCents    int64
	// CallerLeads is true when the submitting bidder holds the lead afterwards.
	CallerLeads bool
}

// Resolve applies one proxy bid to the standing. Validation (live state,
// minimum price, self-bids) is the caller's job; Resolve only computes prices.
// Equal maxima never unseat the leader, so ties go to the earlier bid.
func (l Ladder) Resolve(s Standing, bidderID string, maxCents int64) Outcome {
	if !s.HasLeader() {
		return Outcome{
			CurrentPriceCents: s.CurrentPriceCents,
			LeaderID:          bidderID,
			LeaderMaxCents:    maxCents,
			CallerLeads:       true,
		}
	}

	if maxCents > s.LeaderMaxCents {
		price := min(maxCents, s.LeaderMaxCents+l.Increment(s.LeaderMaxCents))
		return Outcome{
			CurrentPriceCents: max(price, s.CurrentPriceCents),
			LeaderID:          bidderID,
			LeaderMaxCents:    maxCents,
			CallerLeads:       true,
		}
	}

	price := min(maxCents+l.Increment(maxCents), s.LeaderMaxCents)
	return Outcome{
		CurrentPriceCents: max(price, s.CurrentPriceCents),
		LeaderID:          s.LeaderID,
		LeaderMaxCents:    s.LeaderMaxCents,
		CallerLeads:       false,
	}
}
