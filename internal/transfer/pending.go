package transfer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

type Outcome struct {
	Record *Record
	Err    error
}

// Pending tracks one transfer until it completes or fails. It resolves exactly once.
type Pending struct {
	desc      protocol.Descriptor
	direction Direction
	progress  atomic.Uint64

	once     sync.Once
	done     chan Outcome
	resolved chan struct{}
	outcome  Outcome
}

func newPending(desc protocol.Descriptor, dir Direction) *Pending {
	return &Pending{
		desc:      desc,
		direction: dir,
		done:      make(chan Outcome, 1),
		resolved:  make(chan struct{}),
	}
}

func (p *Pending) Descriptor() protocol.Descriptor { return p.desc }

func (p *Pending) Direction() Direction { return p.direction }

// Progress is the number of bytes moved so far.
func (p *Pending) Progress() uint64 { return p.progress.Load() }

// Done delivers the outcome to a single receiver and is then closed.
func (p *Pending) Done() <-chan Outcome { return p.done }

// Wait blocks until the transfer resolves or ctx ends. Any number of callers may wait.
func (p *Pending) Wait(ctx context.Context) (*Record, error) {
	select {
	case <-p.resolved:
		return p.outcome.Record, p.outcome.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result reports the outcome without blocking.
func (p *Pending) Result() (Outcome, bool) {
	select {
	case <-p.resolved:
		return p.outcome, true
	default:
		return Outcome{}, false
	}
}

func (p *Pending) resolve(rec *Record, err error) {
	p.once.Do(func() {
		p.outcome = Outcome{Record: rec, Err: err}
		close(p.resolved)
		p.done <- p.outcome
		close(p.done)
	})
}

func (p *Pending) setProgress(n uint64) {
	p.progress.Store(n)
}
