package websocket

import (
	"sort"
	"sync"

	"github.com/y3sh/quote-sdk-go/common"
)

// SubscriptionSnapshot is a point-in-time copy of the subscription registry:
// kind -> instruments, with instruments sorted. Kinds without instruments
// never appear.
type SubscriptionSnapshot map[common.SubType][]common.Instrument

// Kinds returns the kinds of the snapshot in ascending order.
func (s SubscriptionSnapshot) Kinds() []common.SubType {
	kinds := make([]common.SubType, 0, len(s))
	for kind := range s {
		kinds = append(kinds, kind)
	}
	common.SortSubTypes(kinds)

	return kinds
}

// Len returns the number of (kind, instrument) pairs.
func (s SubscriptionSnapshot) Len() int {
	n := 0
	for _, insts := range s {
		n += len(insts)
	}

	return n
}

// subscriptionRegistry is the client-side record of what the gateway has
// acknowledged as subscribed. It's the source of truth for resubscription
// after a reconnect.
type subscriptionRegistry struct {
	subs map[common.SubType]map[common.Instrument]struct{}
	mtx  sync.Mutex
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		subs: make(map[common.SubType]map[common.Instrument]struct{}),
	}
}

// add unions instruments into the set of every given kind.
func (r *subscriptionRegistry) add(kinds []common.SubType, instruments []common.Instrument) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if len(instruments) == 0 {
		return
	}

	for _, kind := range kinds {
		set, ok := r.subs[kind]
		if !ok {
			set = make(map[common.Instrument]struct{}, len(instruments))
			r.subs[kind] = set
		}

		for _, inst := range instruments {
			set[inst] = struct{}{}
		}
	}
}

// remove deletes the given pairs; pairs which aren't registered are ignored,
// and kinds left empty are dropped.
func (r *subscriptionRegistry) remove(kinds []common.SubType, instruments []common.Instrument) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	for _, kind := range kinds {
		set, ok := r.subs[kind]
		if !ok {
			continue
		}

		for _, inst := range instruments {
			delete(set, inst)
		}

		if len(set) == 0 {
			delete(r.subs, kind)
		}
	}
}

func (r *subscriptionRegistry) has(kind common.SubType, inst common.Instrument) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	_, ok := r.subs[kind][inst]
	return ok
}

func (r *subscriptionRegistry) snapshot() SubscriptionSnapshot {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	snap := make(SubscriptionSnapshot, len(r.subs))
	for kind, set := range r.subs {
		insts := make([]common.Instrument, 0, len(set))
		for inst := range set {
			insts = append(insts, inst)
		}
		sort.Sort(common.InstrumentsByName(insts))

		snap[kind] = insts
	}

	return snap
}

func (r *subscriptionRegistry) reset() {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.subs = make(map[common.SubType]map[common.Instrument]struct{})
}
