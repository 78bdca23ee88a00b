package session

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"storefront/pkg/logger"
	"storefront/pkg/metrics"
)

// Loop runs posted functions one at a time, in posting order, on a single
// goroutine. Posting never blocks and never drops.
type Loop struct {
	mu    sync.Mutex
	queue []func()

	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once

	log zerolog.Logger
}

// NewLoop starts a loop. Stop must be called to release its goroutine.
func NewLoop() *Loop {
	l := &Loop{
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     logger.Component("session"),
	}
	go l.run()
	return l
}

// Post queues fn. It reports false once the loop is stopping.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it. It must not be called from the
// loop goroutine. It reports false if the loop stopped before fn ran.
func (l *Loop) Do(fn func()) bool {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-l.stopped:
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

// Stop ends the loop after the function in progress. Queued functions are
// discarded. Safe to call more than once, but not from the loop itself.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.quit) })
	<-l.stopped
}

// Done is closed when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.quit:
			return
		case <-l.wake:
		}
		for {
			select {
			case <-l.quit:
				return
			default:
			}
			fn, ok := l.next()
			if !ok {
				break
			}
			l.exec(fn)
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.WithLabelValues("session").Inc()
			l.log.Error().Str("panic", fmt.Sprint(r)).Msg("session task panicked")
		}
	}()
	fn()
}
