package headless

import (
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/framediff/window"
)

func TestCoalescedWakesRedrawOnce(t *testing.T) {
	loop := New(4, 4)
	for i := 0; i < 50; i++ {
		loop.Proxy().Wake()
	}

	var userEvents, redraws int
	err := loop.Run(window.HandlerFunc(func(ev window.Event, ctl window.Control) {
		switch ev.(type) {
		case window.UserEvent:
			userEvents++
			for i := 0; i < 10; i++ {
				loop.Window().RequestRedraw()
			}
		case window.RedrawRequested:
			redraws++
			loop.Close()
		case window.CloseRequested:
			ctl.Exit(nil)
		}
	}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, userEvents, test.ShouldEqual, 1)
	test.That(t, redraws, test.ShouldEqual, 1)
}

func TestInjectedEventsComeFirst(t *testing.T) {
	loop := New(4, 4)
	loop.Window().RequestRedraw()
	loop.Proxy().Wake()
	loop.Resize(0, 7)
	loop.Close()

	var got []window.Event
	err := loop.Run(window.HandlerFunc(func(ev window.Event, ctl window.Control) {
		got = append(got, ev)
		if len(got) == 4 {
			ctl.Exit(errors.New("stop"))
		}
	}))
	test.That(t, err, test.ShouldBeError, errors.New("stop"))
	test.That(t, got, test.ShouldResemble, []window.Event{
		window.Resized{Width: 0, Height: 7},
		window.CloseRequested{},
		window.UserEvent{},
		window.RedrawRequested{},
	})

	w, h := loop.Window().InnerSize()
	test.That(t, w, test.ShouldEqual, 0)
	test.That(t, h, test.ShouldEqual, 7)
}

func TestRedrawsKeepPaceWithWakes(t *testing.T) {
	loop := New(1, 1)
	loop.Proxy().Wake()

	var userEvents, redraws int
	err := loop.Run(window.HandlerFunc(func(ev window.Event, ctl window.Control) {
		switch ev.(type) {
		case window.UserEvent:
			userEvents++
			loop.Window().RequestRedraw()
			// a producer that is always ahead of the handler
			loop.Proxy().Wake()
		case window.RedrawRequested:
			redraws++
			if redraws == 100 {
				ctl.Exit(nil)
			}
		}
	}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, redraws, test.ShouldEqual, 100)
	test.That(t, userEvents, test.ShouldEqual, 100)
}

func TestWakeFromAnotherGoroutine(t *testing.T) {
	loop := New(1, 1)
	go loop.Proxy().Wake()

	err := loop.Run(window.HandlerFunc(func(ev window.Event, ctl window.Control) {
		if _, ok := ev.(window.UserEvent); ok {
			ctl.Exit(nil)
		}
	}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loop.Run(nil), test.ShouldNotBeNil)
}

func TestPresentImage(t *testing.T) {
	loop := New(2, 1)
	test.That(t, loop.LastFrame(), test.ShouldBeNil)

	var hooked int
	loop.OnPresent(func(img *image.RGBA) { hooked++ })

	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(1, 0, color.RGBA{R: 9, A: 255})
	test.That(t, loop.Window().PresentImage(img), test.ShouldBeNil)
	img.Set(1, 0, color.RGBA{R: 1, A: 255})

	last := loop.LastFrame()
	test.That(t, last.RGBAAt(1, 0), test.ShouldResemble, color.RGBA{R: 9, A: 255})
	test.That(t, loop.Presented(), test.ShouldEqual, 1)
	test.That(t, hooked, test.ShouldEqual, 1)
}
