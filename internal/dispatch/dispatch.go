// Package dispatch provides the single cooperative event loop that owns the
// GATT object tree and the provisioning state. Every state transition and
// every characteristic emission executes here; other goroutines (D-Bus method
// handlers, the netlink monitor, async call completions) hand work over via
// Post or Call.
package dispatch

// Loop serializes posted functions onto one goroutine.
type Loop struct {
	tasks chan func()
	done  chan struct{}
}

func New() *Loop {
	return &Loop{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
}

// Run drains the task queue until Stop is called. It is intended to be the
// caller's final, blocking call (the daemon's main loop).
func (l *Loop) Run() {
	for {
		select {
		case <-l.done:
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post enqueues fn for execution on the loop. Safe from any goroutine.
// If the loop has been stopped the task is dropped.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.done:
	case l.tasks <- fn:
	}
}

// Call runs fn on the loop and waits for it to finish. Must not be invoked
// from the loop goroutine itself; it is the entry point for D-Bus method
// handlers, which godbus runs on its own goroutines.
func (l *Loop) Call(fn func()) {
	ch := make(chan struct{})
	l.Post(func() {
		fn()
		close(ch)
	})
	select {
	case <-l.done:
	case <-ch:
	}
}

// Stop terminates Run. Pending tasks are discarded.
func (l *Loop) Stop() {
	close(l.done)
}
