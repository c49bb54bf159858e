package websocket

import (
	"context"

	"github.com/juju/errors"
	"github.com/y3sh/quote-sdk-go/common"
)

const (
	// DefaultSubscriptionQuota is the default quota shared by all k-line kinds
	// of one resubscription batch.
	DefaultSubscriptionQuota = 100

	// DefaultResubscribeBatchSize is the default number of instruments per
	// batch for non-k-line kinds.
	DefaultResubscribeBatchSize = 100
)

// resubscribeBatch is a single subscribe request replayed after a reconnect:
// all kinds for all instruments.
type resubscribeBatch struct {
	Kinds       []common.SubType
	Instruments []common.Instrument
}

type resubscribeGroup struct {
	kinds       []common.SubType
	instruments []common.Instrument
}

// planResubscription turns a registry snapshot into an ordered list of
// subscribe batches.
//
// Kinds are walked in ascending order, and consecutive kinds having exactly
// the same instruments are merged into one group. Each group is then split
// into k-line kinds and the rest: k-line kinds are sent first, with at most
// max(1, quota / number of k-line kinds) instruments per batch; the rest go
// with at most batchSize instruments per batch.
func planResubscription(snap SubscriptionSnapshot, quota, batchSize int) []resubscribeBatch {
	if quota <= 0 {
		quota = DefaultSubscriptionQuota
	}
	if batchSize <= 0 {
		batchSize = DefaultResubscribeBatchSize
	}

	var groups []resubscribeGroup
	for _, kind := range snap.Kinds() {
		insts := snap[kind]

		if n := len(groups); n > 0 && sameInstruments(groups[n-1].instruments, insts) {
			groups[n-1].kinds = append(groups[n-1].kinds, kind)
			continue
		}

		groups = append(groups, resubscribeGroup{
			kinds:       []common.SubType{kind},
			instruments: insts,
		})
	}

	var batches []resubscribeBatch
	for _, g := range groups {
		var klineKinds, otherKinds []common.SubType
		for _, kind := range g.kinds {
			if kind.IsKLine() {
				klineKinds = append(klineKinds, kind)
			} else {
				otherKinds = append(otherKinds, kind)
			}
		}

		if len(klineKinds) > 0 {
			size := max(1, quota/len(klineKinds))
			batches = appendBatches(batches, klineKinds, g.instruments, size)
		}

		if len(otherKinds) > 0 {
			batches = appendBatches(batches, otherKinds, g.instruments, batchSize)
		}
	}

	return batches
}

func appendBatches(
	batches []resubscribeBatch, kinds []common.SubType, insts []common.Instrument, size int,
) []resubscribeBatch {
	for start := 0; start < len(insts); start += size {
		end := min(start+size, len(insts))

		batches = append(batches, resubscribeBatch{
			Kinds:       kinds,
			Instruments: insts[start:end],
		})
	}

	return batches
}

func sameInstruments(a, b []common.Instrument) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// subscribeFunc performs one subscribe request for all given pairs.
type subscribeFunc func(ctx context.Context, kinds []common.SubType, instruments []common.Instrument) error

// ResubscribeResult is reported after every resubscription cycle.
type ResubscribeResult struct {
	// Pairs is the number of (kind, instrument) pairs being restored.
	Pairs int
	// Batches is the number of subscribe requests planned.
	Batches int
	// Sent is the number of planned batches which succeeded.
	Sent int
	// Err is nil if every batch succeeded.
	Err error
}

// resubscriber replays a registry snapshot batch by batch.
type resubscriber struct {
	quota     int
	batchSize int
	subscribe subscribeFunc

	// live, if set, reports whether a pair is still registered. It is
	// consulted before each batch, and pairs removed since the snapshot are
	// left out.
	live func(kind common.SubType, inst common.Instrument) bool
}

// run sends the batches one after another, and stops at the first failure.
// Batches which succeeded before the failure are not rolled back.
func (r *resubscriber) run(ctx context.Context, snap SubscriptionSnapshot) ResubscribeResult {
	batches := planResubscription(snap, r.quota, r.batchSize)

	res := ResubscribeResult{
		Pairs:   snap.Len(),
		Batches: len(batches),
	}

	logger.Debugf("resubscribing %d pairs in %d batches", res.Pairs, res.Batches)

	for i, b := range batches {
		for _, req := range r.liveRequests(b) {
			if err := r.subscribe(ctx, req.Kinds, req.Instruments); err != nil {
				res.Err = errors.Annotatef(err, "resubscribe batch %d/%d", i+1, len(batches))
				return res
			}
		}

		res.Sent++
		logger.Tracef("resubscribed batch %d/%d: %v x %d instruments", i+1, len(batches), b.Kinds, len(b.Instruments))
	}

	return res
}

// liveRequests narrows b down to the pairs which are still registered. If
// the kinds of b end up with different instruments, one request per kind is
// returned. No request is returned if nothing is left.
func (r *resubscriber) liveRequests(b resubscribeBatch) []resubscribeBatch {
	if r.live == nil {
		return []resubscribeBatch{b}
	}

	perKind := make([][]common.Instrument, len(b.Kinds))
	same := true
	for i, kind := range b.Kinds {
		for _, inst := range b.Instruments {
			if r.live(kind, inst) {
				perKind[i] = append(perKind[i], inst)
			}
		}

		if i > 0 && !sameInstruments(perKind[0], perKind[i]) {
			same = false
		}
	}

	if same {
		switch len(perKind[0]) {
		case 0:
			return nil
		case len(b.Instruments):
			return []resubscribeBatch{b}
		default:
			return []resubscribeBatch{{Kinds: b.Kinds, Instruments: perKind[0]}}
		}
	}

	var reqs []resubscribeBatch
	for i, kind := range b.Kinds {
		if len(perKind[i]) == 0 {
			continue
		}
		reqs = append(reqs, resubscribeBatch{
			Kinds:       []common.SubType{kind},
			Instruments: perKind[i],
		})
	}

	return reqs
}
