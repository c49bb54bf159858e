package websocket

// SessionState is the state of the quote session on top of the connection:
// whether the subscriptions recorded in the registry are live on the gateway.
type SessionState int

// The following constants represent every possible SessionState.
const (
	// SessionStateIdle means the client is not connected and won't connect
	// by itself.
	SessionStateIdle SessionState = iota

	// SessionStateReconnecting means the connection is being (re)established.
	SessionStateReconnecting

	// SessionStateResubscribing means the connection is established and the
	// registry is being replayed to the gateway.
	SessionStateResubscribing

	// SessionStateStable means every registered subscription is live.
	SessionStateStable
)

// SessionStateNames contains human-readable names for session states.
var SessionStateNames = map[SessionState]string{
	SessionStateIdle:          "idle",
	SessionStateReconnecting:  "reconnecting",
	SessionStateResubscribing: "resubscribing",
	SessionStateStable:        "stable",
}

func (s SessionState) String() string {
	return SessionStateNames[s]
}

// sessionStateFromConn maps connection states which don't depend on the
// resubscription outcome.
func sessionStateFromConn(state ConnState) SessionState {
	switch state {
	case ConnStateConnecting, ConnStateWaitBeforeReconnect:
		return SessionStateReconnecting
	case ConnStateEstablished:
		return SessionStateResubscribing
	}

	return SessionStateIdle
}
