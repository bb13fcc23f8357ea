package window

import (
	"sync"
	"testing"

	"go.viam.com/test"
)

func TestNotifierCoalesces(t *testing.T) {
	n := NewNotifier()
	test.That(t, n.Take(), test.ShouldBeFalse)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				n.Wake()
			}
		}()
	}
	wg.Wait()

	test.That(t, n.Take(), test.ShouldBeTrue)
	test.That(t, n.Take(), test.ShouldBeFalse)
}

func TestHandlerFunc(t *testing.T) {
	var got []Event
	h := HandlerFunc(func(ev Event, ctl Control) { got = append(got, ev) })
	h.HandleEvent(Resized{Width: 2, Height: 3}, nil)
	h.HandleEvent(UserEvent{}, nil)
	test.That(t, got, test.ShouldResemble, []Event{Resized{Width: 2, Height: 3}, UserEvent{}})
}
