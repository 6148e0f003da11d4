package phase

import "jkbox/internal/models"

// RoomEvent drives the room-level phase machine.
type RoomEvent string

const (
	PlayersArrived    RoomEvent = "players-arrived"
	CountdownStarted  RoomEvent = "countdown-started"
	CountdownCanceled RoomEvent = "countdown-cancelled"
	CountdownFinished RoomEvent = "countdown-finished"
	GameCompleted     RoomEvent = "game-completed"
	ResultsFinished   RoomEvent = "results-finished"
	ForceLobby        RoomEvent = "force-lobby"
	HardReset         RoomEvent = "hard-reset"
)

type none struct{}

// RoomTable is title → lobby → countdown → playing → results → lobby,
// plus the admin escape hatches.
var RoomTable = Table[models.Phase, RoomEvent, none]{
	models.PhaseTitle: {
		PlayersArrived: Goto[models.Phase, none](models.PhaseLobby),
		ForceLobby:     Goto[models.Phase, none](models.PhaseLobby),
		HardReset:      Goto[models.Phase, none](models.PhaseTitle),
	},
	models.PhaseLobby: {
		CountdownStarted: Goto[models.Phase, none](models.PhaseCountdown),
		ForceLobby:       Goto[models.Phase, none](models.PhaseLobby),
		HardReset:        Goto[models.Phase, none](models.PhaseTitle),
	},
	models.PhaseCountdown: {
		CountdownCanceled: Goto[models.Phase, none](models.PhaseLobby),
		CountdownFinished: Goto[models.Phase, none](models.PhasePlaying),
		ForceLobby:        Goto[models.Phase, none](models.PhaseLobby),
		HardReset:         Goto[models.Phase, none](models.PhaseTitle),
	},
	models.PhasePlaying: {
		GameCompleted: Goto[models.Phase, none](models.PhaseResults),
		ForceLobby:    Goto[models.Phase, none](models.PhaseLobby),
		HardReset:     Goto[models.Phase, none](models.PhaseTitle),
	},
	models.PhaseResults: {
		ResultsFinished: Goto[models.Phase, none](models.PhaseLobby),
		ForceLobby:      Goto[models.Phase, none](models.PhaseLobby),
		HardReset:       Goto[models.Phase, none](models.PhaseTitle),
	},
}

// NextRoomPhase applies a room event.
func NextRoomPhase(current models.Phase, event RoomEvent) Result[models.Phase] {
	return RoomTable.Transition(current, event, none{})
}
