package buzzer

import "jkbox/internal/phase"

type Phase string

const (
	PhaseIntro  Phase = "intro"
	PhasePrompt Phase = "prompt"
	PhaseBuzzed Phase = "buzzed"
	PhaseReveal Phase = "reveal"
	PhaseFinale Phase = "finale"
)

type Event string

const (
	EventStart   Event = "start"
	EventBuzz    Event = "buzz"
	EventCorrect Event = "correct"
	EventWrong   Event = "wrong"
	EventHint    Event = "hint"
	EventSkip    Event = "skip"
	EventNext    Event = "next"
)

// Counters are already advanced by the caller when the table is consulted.
type Counters struct {
	Round       int
	TotalRounds int
	HintsShown  int
	MaxHints    int
	// Remaining is how many players can still buzz on this prompt.
	Remaining int
}

var Table = phase.Table[Phase, Event, Counters]{
	PhaseIntro: {
		EventStart: phase.Goto[Phase, Counters](PhasePrompt),
	},
	PhasePrompt: {
		EventBuzz: phase.Goto[Phase, Counters](PhaseBuzzed),
		EventHint: phase.Only(func(c Counters) bool { return c.HintsShown <= c.MaxHints }, PhasePrompt),
		EventSkip: phase.Goto[Phase, Counters](PhaseReveal),
	},
	PhaseBuzzed: {
		EventCorrect: phase.Goto[Phase, Counters](PhaseReveal),
		EventWrong:   phase.When(func(c Counters) bool { return c.Remaining > 0 }, PhasePrompt, PhaseReveal),
	},
	PhaseReveal: {
		EventNext: phase.When(func(c Counters) bool { return c.Round > c.TotalRounds }, PhaseFinale, PhasePrompt),
	},
}
