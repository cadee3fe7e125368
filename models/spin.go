package models

const (
	MinScore = 0
	MaxScore = 999

	// JackpotDigit is the digit carried by every jackpot symbol.
	JackpotDigit = 7

	celebrationThreshold = 800
)

// Score is a player's tournament score, always in [MinScore, MaxScore].
type Score int

func (s Score) Valid() bool {
	return s >= MinScore && s <= MaxScore
}

// Tier is the colour band the UI paints a score with.
func (s Score) Tier() string {
	switch {
	case s >= 900:
		return "gold"
	case s >= 700:
		return "green"
	case s >= 500:
		return "blue"
	default:
		return "white"
	}
}

// Symbol is one settled reel. Jackpot is a separate flag: a uniform draw can
// also land on a plain 7.
type Symbol struct {
	Digit   int  `json:"digit"`
	Jackpot bool `json:"jackpot"`
}

// JackpotSymbol is what a reel shows when the jackpot roll hits.
var JackpotSymbol = Symbol{Digit: JackpotDigit, Jackpot: true}

// SpinOutcome is the ordered result of the three reels.
type SpinOutcome struct {
	Reels [3]Symbol `json:"reels"`
}

// Score concatenates the three digits: 100*d1 + 10*d2 + d3.
func (o SpinOutcome) Score() Score {
	return Score(100*o.Reels[0].Digit + 10*o.Reels[1].Digit + o.Reels[2].Digit)
}

// Celebratory is raised for triple sevens or any score above 800.
// It only affects presentation.
func (o SpinOutcome) Celebratory() bool {
	tripleSeven := o.Reels[0].Digit == JackpotDigit &&
		o.Reels[1].Digit == JackpotDigit &&
		o.Reels[2].Digit == JackpotDigit
	return tripleSeven || o.Score() > celebrationThreshold
}
