package pricing_test

import (
	"testing"

	"AuctionCore/internal/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestIncrement_Ladder(t *testing.T) {
	l := pricing.DefaultIncrements
	require.True(t, l.Valid())

	assert.Equal(t, int64(25), l.Increment(0))
	assert.Equal(t, int64(25), l.Increment(999))
	assert.Equal(t, int64(100), l.Increment(1_000))
	assert.Equal(t, int64(500), l.Increment(10_000))
	assert.Equal(t, int64(500), l.Increment(19_999))
	assert.Equal(t, int64(1_000), l.Increment(20_000))
	assert.Equal(t, int64(5_000), l.Increment(10_000_000))
}

func TestLadder_Valid(t *testing.T) {
	assert.False(t, pricing.Ladder{{FromCents: 0, StepCents: 100}, {FromCents: 50, StepCents: 10}}.Valid())
	assert.False(t, pricing.Ladder{{FromCents: 10, StepCents: 1}, {FromCents: 10, StepCents: 2}}.Valid())
	assert.Equal(t, int64(1), pricing.Ladder{}.Increment(500))
}

func TestResolve_WorkedExample(t *testing.T) {
	l := pricing.DefaultIncrements
	s := pricing.Standing{CurrentPriceCents: 10_000}

	a := l.Resolve(s, "A", 15_000)
	assert.Equal(t, int64(10_000), a.CurrentPriceCents)
	assert.Equal(t, "A", a.LeaderID)
	assert.True(t, a.CallerLeads)

	s = pricing.Standing{CurrentPriceCents: a.CurrentPriceCents, LeaderID: a.LeaderID, LeaderMaxCents: a.LeaderMaxCents}
	b := l.Resolve(s, "B", 12_000)
	assert.Equal(t, int64(12_500), b.CurrentPriceCents)
	assert.Equal(t, "A", b.LeaderID)
	assert.Equal(t, int64(15_000), b.LeaderMaxCents)
	assert.False(t, b.CallerLeads)
}

func TestResolve_NewLeaderPaysOneStepOverOldMax(t *testing.T) {
	l := pricing.DefaultIncrements
	s := pricing.Standing{CurrentPriceCents: 12_500, LeaderID: "A", LeaderMaxCents: 15_000}

	out := l.Resolve(s, "C", 30_000)
	assert.Equal(t, "C", out.LeaderID)
	assert.Equal(t, int64(15_500), out.CurrentPriceCents)

	// Barely over the old max: price capped at the new max.
	out = l.Resolve(s, "D", 15_100)
	assert.Equal(t, "D", out.LeaderID)
	assert.Equal(t, int64(15_100), out.CurrentPriceCents)
}

func TestResolve_TieKeepsEarlierLeader(t *testing.T) {
	l := pricing.DefaultIncrements
	s := pricing.Standing{CurrentPriceCents: 10_000, LeaderID: "A", LeaderMaxCents: 15_000}

	out := l.Resolve(s, "B", 15_000)
	assert.Equal(t, "A", out.LeaderID)
	assert.Equal(t, int64(15_000), out.CurrentPriceCents)
	assert.False(t, out.CallerLeads)
}

type proxyBid struct {
	bidder string
	max    int64
	seq    int
}

// TestResolve_Properties replays random valid bid sequences and checks the
// price never decreases and the leader is always the highest max, earliest first.
func TestResolve_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := pricing.DefaultIncrements
		start := rapid.Int64Range(100, 50_000).Draw(t, "start")
		s := pricing.Standing{CurrentPriceCents: start}
		bidders := []string{"a", "b", "c", "d"}

		var accepted []proxyBid
		n := rapid.IntRange(1, 30).Draw(t, "n")
		for i := 0; i < n; i++ {
			bidder := rapid.SampledFrom(bidders).Draw(t, "bidder")
			if bidder == s.LeaderID {
				continue
			}
			maxCents := s.CurrentPriceCents + rapid.Int64Range(1, 20_000).Draw(t, "over")

			before := s.CurrentPriceCents
			out := l.Resolve(s, bidder, maxCents)
			if out.CurrentPriceCents < before {
				t.Fatalf("price decreased from %d to %d", before, out.CurrentPriceCents)
			}
			if out.CurrentPriceCents > out.LeaderMaxCents {
				t.Fatalf("price %d above leader max %d", out.CurrentPriceCents, out.LeaderMaxCents)
			}
			accepted = append(accepted, proxyBid{bidder: bidder, max: maxCents, seq: i})
			s = pricing.Standing{CurrentPriceCents: out.CurrentPriceCents, LeaderID: out.LeaderID, LeaderMaxCents: out.LeaderMaxCents}

			best := accepted[0]
			for _, b := range accepted[1:] {
				if b.max > best.max {
					best = b
				}
			}
			if s.LeaderID != best.bidder {
				t.Fatalf("leader %s, want %s (max %d)", s.LeaderID, best.bidder, best.max)
			}
		}
	})
}

func TestIncrement_NonDecreasing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int64Range(0, 5_000_000).Draw(t, "a")
		b := rapid.Int64Range(a, 5_000_001).Draw(t, "b")
		if pricing.DefaultIncrements.Increment(a) > pricing.DefaultIncrements.Increment(b) {
			t.Fatalf("increment(%d) > increment(%d)", a, b)
		}
	})
}
