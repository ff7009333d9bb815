package link

import "sync"

// Pipe is an in-memory PeerLink implementation. NewPipePair returns two
// connected ends; messages sent on one are delivered to the other's Data
// handler by a single goroutine per direction, preserving order.
type Pipe struct {
	peer *Pipe

	mu    sync.Mutex
	h     Handlers
	bound bool

	inbox     chan []byte
	boundCh   chan struct{}
	closedCh  chan struct{}
	closeOnce sync.Once
}

var _ PeerLink = (*Pipe)(nil)

// NewPipePair creates two connected in-memory links.
func NewPipePair() (*Pipe, *Pipe) {
	a := newPipe()
	b := newPipe()
	a.peer = b
	b.peer = a
	go a.deliverLoop()
	go b.deliverLoop()
	return a, b
}

func newPipe() *Pipe {
	return &Pipe{
		inbox:    make(chan []byte, 1024),
		boundCh:  make(chan struct{}),
		closedCh: make(chan struct{}),
	}
}

// Send queues data for the remote end.
func (p *Pipe) Send(data []byte) error {
	select {
	case <-p.closedCh:
		return ErrClosed
	default:
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case p.peer.inbox <- buf:
		return nil
	case <-p.closedCh:
		return ErrClosed
	}
}

// Bind installs handlers and releases any queued messages.
func (p *Pipe) Bind(h Handlers) {
	p.mu.Lock()
	already := p.bound
	p.h = h
	p.bound = true
	p.mu.Unlock()
	if !already {
		close(p.boundCh)
	}
}

// Destroy closes both ends of the pipe.
func (p *Pipe) Destroy() error {
	p.shutdown()
	p.peer.shutdown()
	return nil
}

func (p *Pipe) shutdown() {
	p.closeOnce.Do(func() { close(p.closedCh) })
}

func (p *Pipe) deliverLoop() {
	select {
	case <-p.boundCh:
	case <-p.closedCh:
		return
	}

	for {
		select {
		case data := <-p.inbox:
			p.deliver(data)
		case <-p.closedCh:
			// Drain what was already queued, then report close.
			for {
				select {
				case data := <-p.inbox:
					p.deliver(data)
				default:
					if fn := p.handlers().Close; fn != nil {
						fn()
					}
					return
				}
			}
		}
	}
}

func (p *Pipe) deliver(data []byte) {
	if fn := p.handlers().Data; fn != nil {
		fn(data)
	}
}

func (p *Pipe) handlers() Handlers {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h
}
