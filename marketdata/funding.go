package marketdata

// FundingInfo is the current funding rate for a symbol, as a signed
// percentage (0.01 = 0.01% per interval). Optional per cycle.
type FundingInfo struct {
	Rate  float64 `json:"rate"`
	Valid bool    `json:"valid"`
}

// Crowding classifies funding-rate positioning pressure.
type Crowding int

const (
	CrowdNeutral Crowding = iota
	CrowdLong             // longs pay shorts, long side crowded
	CrowdShort            // shorts pay longs, short side crowded
)

// crowdedFundingPct is the band beyond which one side is considered crowded.
const crowdedFundingPct = 0.03

// Crowding maps the funding rate onto the ±0.03% sentiment bands.
func (f FundingInfo) Crowding() Crowding {
	if !f.Valid {
		return CrowdNeutral
	}
	switch {
	case f.Rate > crowdedFundingPct:
		return CrowdLong
	case f.Rate < -crowdedFundingPct:
		return CrowdShort
	}
	return CrowdNeutral
}

func (c Crowding) String() string {
	switch c {
	case CrowdLong:
		return "long_crowded"
	case CrowdShort:
		return "short_crowded"
	}
	return "neutral"
}
