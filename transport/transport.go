// Package transport carries control-plane CBOR messages over a reliable
// QUIC stream and data-plane wire fragments over unreliable QUIC
// datagrams, gated by a per-stream registration token. Grounded on
// sockatz/common/conn.go's QUICProxyConn (quic-go wrapped to expose
// datagram semantics) and client2/connection.go's halt-aware dial/retry
// loop; generalized from a generic packet-oriented proxy connection to
// this spec's two-channel (reliable control + unreliable data) transport.
package transport

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/mirageproto/mirage/internal/worker"
)

// RegistrationTokenSize is the fixed size of the per-stream registration
// token that must be observed on the data channel before the host's
// stream context calls AllowEncodingAfterRegistration.
const RegistrationTokenSize = 32

// ErrNotRegistered is returned by SendDatagram before registration has
// been observed on this connection.
var ErrNotRegistered = errors.New("transport: stream not yet registered")

// NewRegistrationToken generates a fresh random registration token.
func NewRegistrationToken() ([RegistrationTokenSize]byte, error) {
	var tok [RegistrationTokenSize]byte
	if _, err := rand.Read(tok[:]); err != nil {
		return tok, fmt.Errorf("transport: generate registration token: %w", err)
	}
	return tok, nil
}

// Conn wraps one QUIC connection, exposing a reliable control stream and
// unreliable datagrams. One Conn typically carries many streams
// multiplexed by StreamID, consistent with the data-plane wire header
// already carrying its own streamID field.
type Conn struct {
	worker.Worker

	quicConn quic.Connection

	controlStream quic.Stream
	controlOut    chan []byte

	regMu              sync.Mutex
	registrationTokens map[[RegistrationTokenSize]byte]uint16 // observed token -> streamID
	registeredStreams  map[uint16]bool
}

// NewConn wraps an already-established QUIC connection and opens its
// single control stream, following the teacher's single-writer pattern:
// one goroutine drains controlOut and performs every write.
func NewConn(ctx context.Context, qc quic.Connection) (*Conn, error) {
	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: open control stream: %w", err)
	}
	c := &Conn{
		quicConn:           qc,
		controlStream:      stream,
		controlOut:         make(chan []byte, 64),
		registrationTokens: make(map[[RegistrationTokenSize]byte]uint16),
		registeredStreams:  make(map[uint16]bool),
	}
	c.Go(c.writeControlLoop)
	return c, nil
}

// writeControlLoop is the sole writer to controlStream, serializing every
// SendControl call's output, mirroring client2/connection.go's
// single-writer send loop.
func (c *Conn) writeControlLoop() {
	for {
		select {
		case msg := <-c.controlOut:
			if _, err := c.controlStream.Write(msg); err != nil {
				return
			}
		case <-c.HaltCh():
			return
		}
	}
}

// SendControl enqueues a CBOR-encoded control message for transmission on
// the reliable stream. It never blocks past the connection's halt.
func (c *Conn) SendControl(encoded []byte) error {
	select {
	case c.controlOut <- encoded:
		return nil
	case <-c.HaltCh():
		return errHalted
	}
}

var errHalted = errors.New("transport: connection halted")

// ControlStream exposes the raw reliable control stream for reading.
// Framing (length-prefixing) of incoming messages is the caller's concern.
func (c *Conn) ControlStream() quic.Stream { return c.controlStream }

// ObserveRegistration records that token was observed for streamID on an
// incoming datagram, marking the stream registered. Grounded on spec.md
// §6's "a per-stream registration datagram ... precedes any video; the
// host must not emit frames until registration is observed."
func (c *Conn) ObserveRegistration(streamID uint16, token [RegistrationTokenSize]byte) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	c.registrationTokens[token] = streamID
	c.registeredStreams[streamID] = true
}

// IsRegistered reports whether streamID has completed registration.
func (c *Conn) IsRegistered(streamID uint16) bool {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	return c.registeredStreams[streamID]
}

// SendDatagram transmits one wire-codec fragment over the unreliable QUIC
// datagram channel. It refuses to send to a stream this connection has
// never seen register; streamhost.Stream.AllowEncodingAfterRegistration
// only records registration and does not itself hold back encoding.
func (c *Conn) SendDatagram(streamID uint16, b []byte) error {
	c.regMu.Lock()
	registered := c.registeredStreams[streamID]
	c.regMu.Unlock()
	if !registered {
		return ErrNotRegistered
	}
	return c.quicConn.SendDatagram(b)
}

// ReceiveDatagram blocks until one datagram arrives or ctx is done.
func (c *Conn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.quicConn.ReceiveDatagram(ctx)
}

// Close halts the write loop and closes the underlying QUIC connection.
func (c *Conn) Close() error {
	c.Halt()
	c.Wait()
	return c.quicConn.CloseWithError(0, "closing")
}
