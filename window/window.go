// Package window defines the event loop boundary: events delivered to the render side, the
// window it draws into, and the proxy other goroutines use to wake it.
package window

import "go.viam.com/framediff/gpu"

// An Event is delivered to a Handler by an EventLoop.
type Event interface {
	isEvent()
}

// Resized reports a new inner size of the window in pixels. Either dimension may be zero, for
// example while the window is minimized.
type Resized struct {
	Width, Height int
}

// RedrawRequested asks the handler to draw a frame. Any number of redraw requests made before
// the event is dispatched result in a single RedrawRequested.
type RedrawRequested struct{}

// CloseRequested is sent when the user asks to close the window.
type CloseRequested struct{}

// UserEvent is the payload-less event posted through a Proxy.
type UserEvent struct{}

func (Resized) isEvent()         {}
func (RedrawRequested) isEvent() {}
func (CloseRequested) isEvent()  {}
func (UserEvent) isEvent()       {}

// Control lets a handler stop the event loop.
type Control interface {
	// Exit makes Run return err once the current handler call returns.
	Exit(err error)
}

// A Handler receives events on the event loop goroutine.
type Handler interface {
	HandleEvent(ev Event, ctl Control)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ev Event, ctl Control)

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ev Event, ctl Control) {
	f(ev, ctl)
}

// A Window is the drawable area. Its methods other than PresentImage may only be called from
// the event loop goroutine.
type Window interface {
	gpu.SurfaceTarget
	// RequestRedraw schedules a RedrawRequested event.
	RequestRedraw()
	// InnerSize returns the size of the drawable area in pixels.
	InnerSize() (width, height int)
}

// A Proxy wakes the event loop from any goroutine by posting a UserEvent. Wake never blocks and
// repeated wakes before the loop runs coalesce into one event.
type Proxy interface {
	Wake()
}

// An EventLoop dispatches events until a handler calls Exit.
type EventLoop interface {
	Window() Window
	Proxy() Proxy
	// Run dispatches events to h on the calling goroutine and returns the error passed to Exit.
	Run(h Handler) error
}

// Notifier is a coalescing wake-up signal with room for one pending notification.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier returns a Notifier with nothing pending.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Wake marks a notification pending. It never blocks.
func (n *Notifier) Wake() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// C receives once per pending notification.
func (n *Notifier) C() <-chan struct{} {
	return n.ch
}

// Take clears a pending notification and reports whether there was one.
func (n *Notifier) Take() bool {
	select {
	case <-n.ch:
		return true
	default:
		return false
	}
}
