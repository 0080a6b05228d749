package broker

import "sync"

type delivery struct {
	h   Handler
	msg Message
}

// dispatcher runs handlers on one goroutine in arrival order. enqueue never
// blocks, so a slow handler cannot hold up the network loop that reads
// acknowledgements for our own publishes.
type dispatcher struct {
	mu      sync.Mutex
	pending []delivery
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(h Handler, msg Message) {
	d.mu.Lock()
	d.pending = append(d.pending, delivery{h: h, msg: msg})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if len(d.pending) == 0 {
				d.mu.Unlock()
				break
			}
			next := d.pending[0]
			d.pending[0] = delivery{}
			d.pending = d.pending[1:]
			d.mu.Unlock()

			next.h(next.msg)

			select {
			case <-d.done:
				return
			default:
			}
		}
	}
}

// stop drops undelivered messages and waits for a running handler to return.
func (d *dispatcher) stop() {
	d.once.Do(func() {
		close(d.done)
	})
	<-d.stopped
}
