package auction

import (
	"sort"

	"github.com/google/uuid"
	"github.com/leadworks/auction-broker/internal/domain/money"
)

// Candidate is one eligible buyer's valid PING result, ready for ranking.
type Candidate struct {
	BuyerID  uuid.UUID
	BidAmount money.Money
	Priority int // the zip row's priority (1..1000)
}

// RankBids sorts candidates by bidAmount DESC, then priority DESC, then
// buyerId ASC, giving a deterministic tie-break for the winner pick. The
// eligibility index sorts its buyer list separately (priority, maxBid,
// buyerId) and does not use this function.
func RankBids(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if cmp := a.BidAmount.Cmp(b.BidAmount); cmp != 0 {
			return cmp > 0
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.BuyerID.String() < b.BuyerID.String()
	})
	return out
}
