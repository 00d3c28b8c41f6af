package bus

// HeartbeatPayload is the periodic liveness message each controller publishes.
type HeartbeatPayload struct {
	ControllerID string `json:"controllerId"`
}

// StatusPayload reports an explicit connection state change from a controller.
// Status is either "reconnected" or "disconnected".
type StatusPayload struct {
	ControllerID string `json:"controllerId"`
	Status       string `json:"status"`
}

// RFIDPayload binds a player to a controller via an RFID scan.
type RFIDPayload struct {
	ControllerID string `json:"controllerId"`
	Username     string `json:"username"`
	RFIDTag      string `json:"rfidTag"`
}

// AnswerPayload is a controller's answer to the current round's sequence.
type AnswerPayload struct {
	ControllerID string   `json:"controllerId"`
	Sequence     []string `json:"sequence"`
}

// PlayerStatusPayload reports a game-level player event from a controller,
// currently only "lost" (the player gave up or timed out on the device).
type PlayerStatusPayload struct {
	ControllerID string `json:"controllerId"`
	Status       string `json:"status"`
}

// ActionPayload is a server command to a controller, e.g. {"action":"countdown"}.
type ActionPayload struct {
	Action string `json:"action"`
}

// ActionCountdown starts the on-device countdown before a sequence broadcast.
const ActionCountdown = "countdown"

// DisplayPayload drives a controller's OLED: current score and round, plus
// an optional free-text message used for loss and game-over notices.
type DisplayPayload struct {
	Username string `json:"username"`
	Points   int    `json:"points"`
	Round    int    `json:"round"`
	Message  string `json:"message,omitempty"`
}

// NotificationPayload is pushed to the frontend event stream.
type NotificationPayload struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// Frontend notification actions.
const (
	NotifyControllerAssigned = "controller_assigned"
	NotifyGameOver           = "game_over"
)
