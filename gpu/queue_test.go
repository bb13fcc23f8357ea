package gpu

import (
	"runtime"
	"sync"
	"testing"

	"go.uber.org/atomic"
	"go.viam.com/test"
	"golang.org/x/sync/errgroup"
)

// overlapQueue counts how often two queue operations were in flight at the same time.
type overlapQueue struct {
	inFlight atomic.Int32
	overlaps atomic.Int32
	ops      atomic.Int32
}

func (q *overlapQueue) enter() {
	if q.inFlight.Inc() > 1 {
		q.overlaps.Inc()
	}
	q.ops.Inc()
	// widen the window so unguarded callers would collide
	runtime.Gosched()
}

func (q *overlapQueue) exit() {
	q.inFlight.Dec()
}

func (q *overlapQueue) WriteTexture(Texture, []byte, ImageDataLayout, Extent3D) error {
	q.enter()
	defer q.exit()
	return nil
}

func (q *overlapQueue) WriteBuffer(Buffer, uint64, []byte) error {
	q.enter()
	defer q.exit()
	return nil
}

func (q *overlapQueue) Submit(...CommandBuffer) error {
	q.enter()
	defer q.exit()
	return nil
}

func TestSharedQueueMutualExclusion(t *testing.T) {
	fake := &overlapQueue{}
	shared := NewSharedQueue(fake)

	const iterations = 500
	var group errgroup.Group
	group.Go(func() error {
		for i := 0; i < iterations; i++ {
			if err := shared.Do(func(q Queue) error {
				if err := q.WriteTexture(nil, nil, ImageDataLayout{}, Extent3D{}); err != nil {
					return err
				}
				return q.WriteTexture(nil, nil, ImageDataLayout{}, Extent3D{})
			}); err != nil {
				return err
			}
		}
		return nil
	})
	group.Go(func() error {
		for i := 0; i < iterations; i++ {
			if err := shared.Do(func(q Queue) error {
				return q.Submit()
			}); err != nil {
				return err
			}
		}
		return nil
	})
	test.That(t, group.Wait(), test.ShouldBeNil)
	test.That(t, fake.overlaps.Load(), test.ShouldEqual, 0)
	test.That(t, fake.ops.Load(), test.ShouldEqual, 3*iterations)
}

func TestUnguardedQueueCanOverlap(t *testing.T) {
	// sanity check that the instrumentation detects overlap at all
	fake := &overlapQueue{}
	var entered, done sync.WaitGroup
	release := make(chan struct{})
	const workers = 4
	for i := 0; i < workers; i++ {
		entered.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			fake.enter()
			entered.Done()
			<-release
			fake.exit()
		}()
	}
	entered.Wait()
	close(release)
	done.Wait()
	test.That(t, fake.overlaps.Load(), test.ShouldEqual, workers-1)
}
