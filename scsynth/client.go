// Package scsynth talks to a SuperCollider scsynth server over OSC. The
// channel is a best-effort UDP datagram stream: sends are fire-and-forget,
// nothing is acknowledged or retried, and ordering across datagrams is only
// achieved by time-tagging bundles into the future. A dropped datagram shows
// up as a missed note or a stuck parameter, which for a real-time instrument
// beats the latency of a delivery guarantee.
package scsynth

import (
	"log"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/scgolang/osc"
)

// ErrNotConnected is returned by all sends when there is no connection to
// the server. Callers treat it as a logged no-op, never as a retry signal.
var ErrNotConnected = errors.New("not connected to scsynth")

// Conn is the part of an OSC connection the client needs. *osc.UDPConn
// satisfies it; tests inject recording fakes.
type Conn interface {
	Send(osc.Packet) error
	Close() error
}

// Client sends commands to one scsynth server. The zero value and the nil
// client are valid disconnected clients whose sends fail with
// ErrNotConnected.
type Client struct {
	conn     Conn
	ahead    time.Duration
	ends     chan int32
	downLogd bool
}

// Connect dials the server over UDP, asks it for node notifications and
// starts serving them in the background. ahead is added to every
// FutureInstant so events are always dispatched before they are audible.
func Connect(addr string, ahead time.Duration) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolving scsynth address")
	}
	laddr, err := net.ResolveUDPAddr("udp", "0.0.0.0:0")
	if err != nil {
		return nil, errors.Wrap(err, "resolving local address")
	}
	conn, err := osc.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, errors.Wrap(err, "dialing scsynth")
	}
	c := NewClient(conn, ahead)
	go c.serve(conn)
	return c, nil
}

// NewClient wraps an existing connection. Tests use this to inject a fake
// Conn; Connect uses it with the real UDP connection.
func NewClient(conn Conn, ahead time.Duration) *Client {
	return &Client{conn: conn, ahead: ahead, ends: make(chan int32, 256)}
}

// serve receives server notifications and feeds node-end events to the ends
// channel. Runs until the connection dies.
func (c *Client) serve(conn *osc.UDPConn) {
	_ = c.SendImmediate(Notify(true))
	err := conn.Serve(1, osc.PatternMatching{
		AddrNodeEnd: osc.Method(func(m osc.Message) error {
			if len(m.Arguments) == 0 {
				return nil
			}
			id, err := m.Arguments[0].ReadInt32()
			if err != nil {
				return nil
			}
			select {
			case c.ends <- id:
			default: // nobody is draining; dropping the notice is fine, the deadline cleanup catches it
			}
			return nil
		}),
		AddrDone: osc.Method(func(osc.Message) error { return nil }),
		AddrFail: osc.Method(func(m osc.Message) error {
			log.Printf("scsynth: %v", m.Arguments)
			return nil
		}),
	})
	if err != nil {
		log.Printf("scsynth: notification serve ended: %v", err)
	}
}

// Connected reports whether sends will reach a server.
func (c *Client) Connected() bool {
	return c != nil && c.conn != nil
}

// NodeEnds returns the channel of node IDs the server has reported as ended.
// The engine drains it non-blockingly once per frame. Tests may feed it via
// PushNodeEnd.
func (c *Client) NodeEnds() <-chan int32 {
	if c == nil {
		return nil
	}
	return c.ends
}

// PushNodeEnd injects a node-end notice, as if the server had sent /n_end.
func (c *Client) PushNodeEnd(nodeID int32) {
	select {
	case c.ends <- nodeID:
	default:
	}
}

// FutureInstant returns a timestamp offset seconds into the future, plus the
// configured dispatch-ahead latency. The server's clock realizes the tag
// exactly on time, which removes frame-rate jitter from note timing.
func (c *Client) FutureInstant(offset time.Duration) time.Time {
	ahead := time.Duration(0)
	if c != nil {
		ahead = c.ahead
	}
	return time.Now().Add(ahead + offset)
}

// SendImmediate sends a single command to be executed as soon as it arrives.
// Fire-and-forget; use for low-stakes parameter tweaks.
func (c *Client) SendImmediate(msg osc.Message) error {
	if !c.Connected() {
		return c.unavailable()
	}
	return errors.Wrap(c.conn.Send(msg), "sending message")
}

// SendBundle groups messages under one future time tag, applied atomically
// by the server. Required whenever several parameters of one event must take
// effect on the same cycle.
func (c *Client) SendBundle(msgs []osc.Message, readyAt time.Time) error {
	if !c.Connected() {
		return c.unavailable()
	}
	if len(msgs) == 0 {
		return nil
	}
	packets := make([]osc.Packet, len(msgs))
	for i, m := range msgs {
		packets[i] = m
	}
	bundle := osc.Bundle{Timetag: osc.FromTime(readyAt), Packets: packets}
	return errors.Wrap(c.conn.Send(bundle), "sending bundle")
}

// unavailable logs the disconnected state once per client, so a dead server
// does not flood the log at frame rate.
func (c *Client) unavailable() error {
	if c != nil && !c.downLogd {
		c.downLogd = true
		log.Printf("scsynth: %v; engine calls are no-ops", ErrNotConnected)
	}
	return ErrNotConnected
}

// Close shuts the connection down. Further sends fail with ErrNotConnected.
func (c *Client) Close() error {
	if !c.Connected() {
		return nil
	}
	conn := c.conn
	c.conn = nil
	return conn.Close()
}
