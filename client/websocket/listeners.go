package websocket

type stateListener struct {
	cb  StateCallback
	opt StateListenerOpt
}

// stateListeners maps a state, or ConnStateAny, to its listeners.
type stateListeners map[ConnState][]stateListener

func (sl stateListeners) add(state ConnState, l stateListener) {
	sl[state] = append(sl[state], l)
}

// take returns the listeners to call on entering state, those of
// ConnStateAny included, and forgets the one-off ones.
func (sl stateListeners) take(state ConnState) []stateListener {
	res := make([]stateListener, 0, len(sl[state])+len(sl[ConnStateAny]))

	for _, key := range []ConnState{state, ConnStateAny} {
		var kept []stateListener
		for _, l := range sl[key] {
			res = append(res, l)
			if !l.opt.OneOff {
				kept = append(kept, l)
			}
		}
		sl[key] = kept
	}

	return res
}
