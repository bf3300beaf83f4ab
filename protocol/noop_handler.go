package protocol

// NoOpHandler ignores every message type.
type NoOpHandler struct{}

func (NoOpHandler) HandleStationHeartbeat(*Envelope, *StationHeartbeat) {}
func (NoOpHandler) HandleSessionChanged(*Envelope, *SessionChanged)     {}
func (NoOpHandler) HandlePhaseFinished(*Envelope, *PhaseFinished)       {}

var _ MessageHandler = NoOpHandler{}
