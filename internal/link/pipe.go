package link

import "sync"

// Pipe is an in-memory Link. The host side injects writes with Send and
// inspects notifications with Sent or Drain.
type Pipe struct {
	in *inbox

	mu     sync.Mutex
	out    []Message
	closed bool
}

// NewPipe returns an open pipe.
func NewPipe() *Pipe {
	return &Pipe{in: newInbox(DefaultInboxSize)}
}

// Send queues a host write on channel ch.
func (p *Pipe) Send(ch Channel, payload []byte) bool {
	return p.in.push(ch, payload)
}

func (p *Pipe) Poll() (Message, bool) { return p.in.poll() }

func (p *Pipe) Notify(ch Channel, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.out = append(p.out, Message{Channel: ch, Payload: append([]byte(nil), payload...)})
	return nil
}

// Sent returns a copy of all notifications so far.
func (p *Pipe) Sent() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.out...)
}

// Drain returns the notifications so far and forgets them.
func (p *Pipe) Drain() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.out
	p.out = nil
	return out
}

func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
