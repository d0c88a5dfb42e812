package limit

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Kind identifies an accounted resource kind.
type Kind int

const (
	// PhysicalMemory accounts bytes of emulated physical memory.
	PhysicalMemory Kind = iota
	// Threads accounts kernel thread objects.
	Threads
	// Events accounts kernel event objects.
	Events
	// TransferMemories accounts transfer-memory objects.
	TransferMemories
	// Sessions accounts IPC session objects.
	Sessions

	// NumKinds is the number of accounted resource kinds.
	NumKinds int = iota
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case PhysicalMemory:
		return "physical_memory"
	case Threads:
		return "threads"
	case Events:
		return "events"
	case TransferMemories:
		return "transfer_memories"
	case Sessions:
		return "sessions"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrLimitReached is returned when a reservation exceeds the available
// capacity of its kind. Nothing is charged; the caller may retry later or
// with a smaller amount.
var ErrLimitReached = errors.New("limit: resource limit reached")

// LimitError carries the details of a rejected reservation.
type LimitError struct {
	Kind      Kind
	Requested int64
	Available int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limit: %s reservation of %d exceeds available %d", e.Kind, e.Requested, e.Available)
}

// Unwrap makes errors.Is(err, ErrLimitReached) work.
func (e *LimitError) Unwrap() error {
	return ErrLimitReached
}

// Config holds the per-kind capacities of a ledger.
// A zero capacity means the kind is unlimited (tracking only).
type Config struct {
	PhysicalMemoryBytes int64
	Threads             int64
	Events              int64
	TransferMemories    int64
	Sessions            int64
}

func (c Config) capacity(k Kind) int64 {
	switch k {
	case PhysicalMemory:
		return c.PhysicalMemoryBytes
	case Threads:
		return c.Threads
	case Events:
		return c.Events
	case TransferMemories:
		return c.TransferMemories
	case Sessions:
		return c.Sessions
	default:
		return 0
	}
}

// Ledger is an accounting ledger for kernel resource kinds. Reservations gate
// on a weighted semaphore per limited kind, so concurrent reservers agree on
// availability without locks. The invariant reserved+used <= capacity holds
// for every limited kind at all times.
type Ledger struct {
	caps [NumKinds]int64
	sems [NumKinds]*semaphore.Weighted // nil if the kind is unlimited

	reserved [NumKinds]atomic.Int64
	used     [NumKinds]atomic.Int64
	peak     [NumKinds]atomic.Int64

	refs atomic.Int64
}

// New creates a ledger with the given capacities.
func New(cfg Config) *Ledger {
	l := &Ledger{}
	for k := Kind(0); int(k) < NumKinds; k++ {
		c := cfg.capacity(k)
		l.caps[k] = c
		if c > 0 {
			l.sems[k] = semaphore.NewWeighted(c)
		}
	}
	return l
}

// Reserve attempts to set aside amount of kind. On success the returned
// reservation must be committed or canceled exactly once; callers defer
// Cancel so every early return rolls back. Reserve never blocks: if the
// capacity is not available now, it fails with ErrLimitReached.
func (l *Ledger) Reserve(kind Kind, amount int64) (*Reservation, error) {
	if amount < 0 {
		panic(fmt.Sprintf("limit: negative reservation of %s: %d", kind, amount))
	}

	if amount > 0 && l.sems[kind] != nil {
		if !l.sems[kind].TryAcquire(amount) {
			return nil, &LimitError{
				Kind:      kind,
				Requested: amount,
				Available: l.Available(kind),
			}
		}
	}

	l.reserved[kind].Add(amount)

	return &Reservation{ledger: l, kind: kind, amount: amount}, nil
}

// Release returns committed capacity of kind to the ledger. Releasing more
// than is committed indicates unbalanced accounting and is fatal.
func (l *Ledger) Release(kind Kind, amount int64) {
	if amount < 0 {
		panic(fmt.Sprintf("limit: negative release of %s: %d", kind, amount))
	}
	if amount == 0 {
		return
	}

	if now := l.used[kind].Add(-amount); now < 0 {
		panic(fmt.Sprintf("limit: release of %d %s drops usage below zero", amount, kind))
	}
	if l.sems[kind] != nil {
		l.sems[kind].Release(amount)
	}
}

// Open takes a reference on the ledger's lifetime.
func (l *Ledger) Open() {
	l.refs.Add(1)
}

// Close drops a reference taken with Open. More Closes than Opens is fatal.
func (l *Ledger) Close() {
	if now := l.refs.Add(-1); now < 0 {
		panic("limit: ledger reference count below zero")
	}
}

// Refs returns the current reference count.
func (l *Ledger) Refs() int64 {
	return l.refs.Load()
}

// Capacity returns the capacity of kind; zero means unlimited.
func (l *Ledger) Capacity(kind Kind) int64 {
	return l.caps[kind]
}

// Used returns the committed usage of kind.
func (l *Ledger) Used(kind Kind) int64 {
	return l.used[kind].Load()
}

// Reserved returns the capacity of kind held by pending reservations.
func (l *Ledger) Reserved(kind Kind) int64 {
	return l.reserved[kind].Load()
}

// Available returns how much of kind can still be reserved.
func (l *Ledger) Available(kind Kind) int64 {
	if l.caps[kind] == 0 {
		return math.MaxInt64
	}
	avail := l.caps[kind] - l.reserved[kind].Load() - l.used[kind].Load()
	if avail < 0 {
		return 0
	}
	return avail
}

// Peak returns the highest committed usage of kind observed so far.
func (l *Ledger) Peak(kind Kind) int64 {
	return l.peak[kind].Load()
}

// KindStats is a point-in-time view of one resource kind.
type KindStats struct {
	Capacity int64
	Used     int64
	Reserved int64
	Peak     int64
}

// Stats is a snapshot of all kinds plus the reference count.
type Stats struct {
	Kinds [NumKinds]KindStats
	Refs  int64
}

// Stats returns a point-in-time snapshot of the ledger. Kinds are read one by
// one, so the snapshot is not atomic across kinds.
func (l *Ledger) Stats() Stats {
	var s Stats
	for k := Kind(0); int(k) < NumKinds; k++ {
		s.Kinds[k] = KindStats{
			Capacity: l.caps[k],
			Used:     l.used[k].Load(),
			Reserved: l.reserved[k].Load(),
			Peak:     l.peak[k].Load(),
		}
	}
	s.Refs = l.refs.Load()
	return s
}

func (l *Ledger) commit(kind Kind, amount int64) {
	l.reserved[kind].Add(-amount)
	now := l.used[kind].Add(amount)
	for {
		peak := l.peak[kind].Load()
		if now <= peak || l.peak[kind].CompareAndSwap(peak, now) {
			break
		}
	}
}

func (l *Ledger) cancel(kind Kind, amount int64) {
	l.reserved[kind].Add(-amount)
	if amount > 0 && l.sems[kind] != nil {
		l.sems[kind].Release(amount)
	}
}
