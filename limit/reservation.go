package limit

import "sync/atomic"

const (
	resvPending int32 = iota
	resvCommitted
	resvCanceled
)

// Reservation is capacity set aside by Reserve but not yet charged. It
// settles exactly once: Commit converts it to committed usage, Cancel hands
// it back. Cancel is idempotent and becomes a no-op once committed, so a
// deferred Cancel makes rollback automatic on every early-return path.
type Reservation struct {
	ledger *Ledger
	kind   Kind
	amount int64
	state  atomic.Int32
}

// Kind returns the resource kind this reservation holds.
func (r *Reservation) Kind() Kind {
	return r.kind
}

// Amount returns the reserved amount.
func (r *Reservation) Amount() int64 {
	return r.amount
}

// Commit permanently charges the reserved amount against the ledger.
// Committing twice, or after Cancel took effect, is fatal.
func (r *Reservation) Commit() {
	if !r.state.CompareAndSwap(resvPending, resvCommitted) {
		panic("limit: reservation settled twice")
	}
	r.ledger.commit(r.kind, r.amount)
}

// Cancel returns the reserved amount to the ledger. Safe to call any number
// of times; after Commit it does nothing.
func (r *Reservation) Cancel() {
	if !r.state.CompareAndSwap(resvPending, resvCanceled) {
		return
	}
	r.ledger.cancel(r.kind, r.amount)
}

// Committed reports whether Commit has settled this reservation.
func (r *Reservation) Committed() bool {
	return r.state.Load() == resvCommitted
}
