package match

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/errs"
)

const inboxSize = 64

var errSessionClosed = eris.Wrap(errs.ErrNotFound, "session is closed")

// actor owns one Session. Every read and write of the session, including timer callbacks, runs
// on the actor goroutine.
type actor struct {
	session *Session
	clock   clockwork.Clock
	rng     *rand.Rand

	inbox chan func()
	quit  chan struct{}
	done  chan struct{}

	// Only accessed on the actor goroutine.
	timers    map[uint64]clockwork.Timer
	nextTimer uint64
}

func newActor(session *Session, clock clockwork.Clock, rng *rand.Rand) *actor {
	return &actor{
		session: session,
		clock:   clock,
		rng:     rng,
		inbox:   make(chan func(), inboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		timers:  make(map[uint64]clockwork.Timer),
	}
}

func (a *actor) run() {
	defer close(a.done)
	for {
		select {
		case fn := <-a.inbox:
			fn()
		case <-a.quit:
			a.cancelTimers()
			return
		}
	}
}

// stop terminates the actor and waits for it to exit.
func (a *actor) stop() {
	select {
	case <-a.quit:
	default:
		close(a.quit)
	}
	<-a.done
}

// post queues fn for the actor. It returns false once the actor has stopped.
func (a *actor) post(fn func()) bool {
	select {
	case <-a.quit:
		return false
	default:
	}
	select {
	case a.inbox <- fn:
		return true
	case <-a.quit:
		return false
	}
}

// call runs fn on the actor and waits for its result.
func (a *actor) call(ctx context.Context, fn func(*Session) error) error {
	result := make(chan error, 1)
	if !a.post(func() { result <- fn(a.session) }) {
		return errSessionClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "session call canceled")
	case <-a.done:
		select {
		case err := <-result:
			return err
		default:
			return errSessionClosed
		}
	}
}

// after runs fn on the actor once d has elapsed on the actor's clock. Pending timers are dropped
// by cancelTimers.
func (a *actor) after(d time.Duration, fn func()) {
	a.nextTimer++
	id := a.nextTimer
	a.timers[id] = a.clock.AfterFunc(d, func() {
		a.post(func() {
			if _, pending := a.timers[id]; !pending {
				return
			}
			delete(a.timers, id)
			fn()
		})
	})
}

func (a *actor) cancelTimers() {
	for id, t := range a.timers {
		t.Stop()
		delete(a.timers, id)
	}
}
