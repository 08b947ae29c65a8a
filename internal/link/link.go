// Package link carries records between the device and a host.
//
// Every transport delivers inbound messages into a bounded inbox that the
// control loop drains with Poll, so device state is only ever touched from
// one goroutine. Outbound records go through Notify.
package link

import (
	"errors"
	"fmt"

	"github.com/relabs-tech/gesture_node/internal/monitoring"
)

// Channel identifies a logical characteristic.
type Channel byte

const (
	ChannelMode       Channel = 1
	ChannelSensor     Channel = 2
	ChannelInference  Channel = 3
	ChannelDeviceInfo Channel = 4
	ChannelConfig     Channel = 5
	ChannelUpload     Channel = 6
	ChannelStatus     Channel = 7
)

var channelNames = map[Channel]string{
	ChannelMode:       "mode",
	ChannelSensor:     "sensor",
	ChannelInference:  "inference",
	ChannelDeviceInfo: "info",
	ChannelConfig:     "config",
	ChannelUpload:     "upload",
	ChannelStatus:     "status",
}

func (c Channel) String() string {
	if n, ok := channelNames[c]; ok {
		return n
	}
	return fmt.Sprintf("channel(%d)", byte(c))
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	_, ok := channelNames[c]
	return ok
}

// ParseChannel maps a channel name back to its Channel.
func ParseChannel(name string) (Channel, bool) {
	for c, n := range channelNames {
		if n == name {
			return c, true
		}
	}
	return 0, false
}

// Message is one inbound write.
type Message struct {
	Channel Channel
	Payload []byte
}

// Link is a bidirectional record transport.
type Link interface {
	// Poll returns the next inbound message without blocking.
	Poll() (Message, bool)
	// Notify sends payload on channel ch.
	Notify(ch Channel, payload []byte) error
	Close() error
}

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("link closed")

// DefaultInboxSize holds a full model upload at the largest chunk size.
const DefaultInboxSize = 512

// inbox is a bounded FIFO filled by transport goroutines and drained by
// the control loop.
type inbox struct {
	ch chan Message
}

func newInbox(size int) *inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &inbox{ch: make(chan Message, size)}
}

// push copies payload and enqueues it. It never blocks; when the inbox is
// full the message is dropped and push returns false.
func (q *inbox) push(ch Channel, payload []byte) bool {
	m := Message{Channel: ch, Payload: append([]byte(nil), payload...)}
	select {
	case q.ch <- m:
		return true
	default:
		monitoring.Logf("link: inbox full, dropped %s message (%d bytes)", ch, len(payload))
		return false
	}
}

func (q *inbox) poll() (Message, bool) {
	select {
	case m := <-q.ch:
		return m, true
	default:
		return Message{}, false
	}
}

// Multi joins several links. Poll drains them in order; Notify fans out
// and returns the first error.
type Multi struct {
	links []Link
	next  int
}

// Join returns a Link over links.
func Join(links ...Link) *Multi {
	return &Multi{links: links}
}

func (m *Multi) Poll() (Message, bool) {
	for range m.links {
		l := m.links[m.next]
		m.next = (m.next + 1) % len(m.links)
		if msg, ok := l.Poll(); ok {
			return msg, true
		}
	}
	return Message{}, false
}

func (m *Multi) Notify(ch Channel, payload []byte) error {
	var first error
	for _, l := range m.links {
		if err := l.Notify(ch, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Multi) Close() error {
	var errs []error
	for _, l := range m.links {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
