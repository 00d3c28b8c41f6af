// Package bus defines the messaging port for Lumo: the MQTT topic layout,
// the wire payloads exchanged with controllers, and a thin client wrapper
// around the paho MQTT library.
//
// The topic layout is fixed by the controller firmware and must not drift:
//
//	in   controller/connect           raw controller id
//	in   controller/heartbeat         {"controllerId": ...}
//	in   controller/status            {"controllerId": ..., "status": ...}
//	in   controller/rfid              {"controllerId", "username", "rfidTag"}
//	in   controller/request_sequence  raw controller id
//	in   controller/color_sequence    {"controllerId", "sequence": [...]}
//	in   controller/playerstatus      {"controllerId", "status": "lost"}
//	out  controller/ack               text
//	out  controller/action/{id}       {"action": "countdown"}
//	out  neopixel/display{id}         ["RED", "BLUE", ...]
//	out  oled/display/{id}            {"username", "points", "round", "message"}
//	out  frontend/notifications       {"action", "message"}
//
// Note the asymmetry: the NeoPixel topic has no slash before the controller
// id while the OLED topic does. The firmware subscribes with these exact
// shapes, so both are preserved.
package bus

// Inbound topics (controller → server).
const (
	TopicConnect         = "controller/connect"
	TopicHeartbeat       = "controller/heartbeat"
	TopicStatus          = "controller/status"
	TopicRFID            = "controller/rfid"
	TopicRequestSequence = "controller/request_sequence"
	TopicColorSequence   = "controller/color_sequence"
	TopicPlayerStatus    = "controller/playerstatus"
)

// Outbound topics (server → controller / frontend).
const (
	TopicAck           = "controller/ack"
	TopicNotifications = "frontend/notifications"
)

// QoS levels used on the bus. Liveness and game-critical messages ride on
// the levels the original deployment used: exactly-once for connect, RFID
// binding and answers, at-least-once for everything else.
const (
	QoSAtLeastOnce byte = 1
	QoSExactlyOnce byte = 2
)

// ActionTopic returns the per-controller command topic used for round start
// signals such as the countdown.
func ActionTopic(controllerID string) string {
	return "controller/action/" + controllerID
}

// SequenceTopic returns the per-controller NeoPixel display topic the color
// sequence is broadcast on. No separator before the id; see package doc.
func SequenceTopic(controllerID string) string {
	return "neopixel/display" + controllerID
}

// DisplayTopic returns the per-controller OLED display topic used for score,
// loss, and game-over messages.
func DisplayTopic(controllerID string) string {
	return "oled/display/" + controllerID
}
