package reputation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// bucketEpsilon absorbs float error when a score sits on a sub-tier bound.
const bucketEpsilon = 1e-9

// Params hold the episode-derived constants of the scoring rule.
type Params struct {
	// TotalSteps is the number of control steps in an episode.
	TotalSteps float64
	// SubTierSize splits a tier into TotalSteps buckets.
	SubTierSize float64
	// DecayRate is subtracted from a score on every update.
	DecayRate float64
	// Precision is the number of decimals scores are rounded to.
	Precision int
}

// NewParams derives the scoring constants from the episode length and the
// step size, both in seconds.
func NewParams(episode, step float64) (Params, error) {
	if step <= 0 {
		return Params{}, fmt.Errorf("step size must be positive")
	}
	if episode < step {
		return Params{}, fmt.Errorf("episode (%v) shorter than one step (%v)", episode, step)
	}
	n := episode / step
	s := 1 / n
	d := s / n
	digits := strings.Replace(strconv.FormatFloat(d, 'f', -1, 64), ".", "", 1)
	return Params{TotalSteps: n, SubTierSize: s, DecayRate: d, Precision: len(digits)}, nil
}

// Round rounds v to the configured precision.
func (p Params) Round(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', p.Precision, 64), 64)
	if err != nil {
		return v
	}
	return r
}

// Bucket returns the tier of v and the index of its sub-tier bucket.
func (p Params) Bucket(v float64) (tier float64, k int) {
	tier = math.Floor(v)
	k = int(math.Floor((v-tier)/p.SubTierSize + bucketEpsilon))
	return tier, k
}

// Bounds returns the lower and upper bound of the bucket containing v.
func (p Params) Bounds(v float64) (lower, upper float64) {
	tier, k := p.Bucket(v)
	lower = tier + float64(k)*p.SubTierSize
	return lower, lower + p.SubTierSize
}

// Next applies one negotiation outcome to score v.
//
// A failure raises the score: from the tier floor it moves to the top of the
// first bucket, otherwise one bucket above the upper bound of the current
// bucket, minus the decay. Once that target leaves the tier the score is
// promoted to the next tier floor, which a participant failing on every
// step from a tier floor reaches after exactly TotalSteps failures.
//
// A success decays the score but never below the lower bound of its bucket,
// so it never crosses a tier boundary downward.
func (p Params) Next(v float64, success bool) float64 {
	if v < 0 {
		v = 0
	}
	tier, k := p.Bucket(v)
	if success {
		lower := p.Round(tier + float64(k)*p.SubTierSize)
		return math.Max(math.Max(p.Round(v-p.DecayRate), lower), 0)
	}
	m := k + 2
	if v == tier {
		m = 1
	}
	next := tier + float64(m)*p.SubTierSize - p.DecayRate
	if float64(m) >= p.TotalSteps || next >= tier+1 {
		return tier + 1
	}
	return p.Round(next)
}
