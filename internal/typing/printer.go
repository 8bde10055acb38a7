package typing

import (
	"fmt"
	"io"
	"sync"
	"time"
)

type line struct {
	prefix string
	text   string
}

// Printer writes lines to w, typing each one out on a fixed tick. Lines are
// written in the order they were queued. Queuing never waits for typing.
type Printer struct {
	w    io.Writer
	tick time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []line
	busy    bool
	closed  bool
	stopped chan struct{}
}

// NewPrinter starts a printer. A zero tick prints every line at once.
func NewPrinter(w io.Writer, tick time.Duration) *Printer {
	p := &Printer{w: w, tick: tick, stopped: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

// Print queues text to be typed after prefix.
func (p *Printer) Print(prefix, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, line{prefix: prefix, text: text})
	p.cond.Broadcast()
}

// Wait blocks until every queued line has been written.
func (p *Printer) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for (len(p.queue) > 0 || p.busy) && !p.closed {
		p.cond.Wait()
	}
}

// Close stops the printer after the line being typed; queued lines are dropped.
func (p *Printer) Close() {
	p.mu.Lock()
	p.closed = true
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()
	<-p.stopped
}

func (p *Printer) run() {
	defer close(p.stopped)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		next := p.queue[0]
		p.queue = p.queue[1:]
		p.busy = true
		p.mu.Unlock()

		p.typeLine(next)

		p.mu.Lock()
		p.busy = false
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

func (p *Printer) typeLine(l line) {
	fmt.Fprint(p.w, l.prefix)
	if p.tick <= 0 {
		fmt.Fprintln(p.w, l.text)
		return
	}

	r := NewReveal(l.text)
	written := 0
	for r.Advance() {
		visible := r.Visible()
		fmt.Fprint(p.w, visible[written:])
		written = len(visible)
		time.Sleep(p.tick)
	}
	fmt.Fprintln(p.w, r.Visible()[written:])
}
