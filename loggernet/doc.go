// Package loggernet implements the LoggerNet transaction components.
//
// Each component owns one request/response exchange or one subscription
// with the server. They all follow the same lifecycle:
//
//	          Start                 base ready            ack / notifications
//	Standby ────────> Delegate ───────────────> Active ─────────────────────┐
//	   ^                 │                         │                        │
//	   │                 │ base failure            │ terminal outcome       │
//	   └──── Finish ─────┴─────────────────────────┴────────────────────────┘
//
// Properties are set with Set methods while in standby; in any other state
// they fail with ErrInvalidState. Start checks that the client is registered
// with event.Register and that the component is idle, then lets the embedded
// base open a session and log on. When the base reports ready the component
// sends its command and becomes active.
//
// # Event Delivery
//
// Components never call their client while handling a message. They post an
// event to themselves and call the client when the dispatcher delivers it.
// On delivery the component checks that the event was captured for the
// client it is currently serving and that this client is still registered.
// For a terminal event the component calls Finish before the callback, so a
// callback that restarts or closes the component sees it in standby.
//
//	server ack ─> OnNetMessage ─> Post(event) ··· dispatcher ··· Receive ─> Finish ─> client
//
// # Outcomes
//
// Every component reports through its own outcome or failure type. Server
// codes that a component does not recognise decode to the Unknown value of
// that type, and every value (including out of range ones) has a name and a
// description, see FormatOutcome.
//
// # Cancellation
//
// Components that support Cancel accept it only while a transaction is in
// progress. Before the server has been contacted the cancellation is reported
// locally; afterwards a stop command is sent, which requires a server
// interface version new enough to understand it (ErrUnsupported otherwise).
package loggernet
