// Package sender fragments encoded frames into wire-codec datagrams,
// applies a token-bucket rate limit, and tags every packet with the
// sender's current generation/epoch/dimension token. Grounded on the
// teacher's single-owner writer loop (stream/stream.go's writer()),
// generalized from a retransmitting reliable stream to a best-effort,
// drop-under-pressure one per spec.md §4.5's explicit non-goal of
// retransmission.
package sender

import (
	"math"
	"sync"
	"time"

	"github.com/mirageproto/mirage/security"
	"github.com/mirageproto/mirage/wire"
)

// WorkItem is one encoded frame awaiting fragmentation and transmission.
type WorkItem struct {
	Generation     uint64
	FrameNumber    uint32
	Keyframe       bool
	DimensionToken uint16
	Epoch          uint16
	ContentRect    wire.Rect
	TimestampNs    uint64
	Payload        []byte
}

// Datagram is one fully-formed outbound packet.
type Datagram struct {
	Header  wire.Header
	Payload []byte // header + ciphertext/plaintext fragment payload
}

// Transmitter is the external collaborator that actually puts bytes on the
// wire (in cmd/miraged, a loopback that feeds the client controller).
type Transmitter interface {
	SendDatagram(b []byte) error
}

// TokenBucket is a simple byte-budget rate limiter refilled continuously
// at a configured bitrate, allowing a burst of up to one frame.
type TokenBucket struct {
	mu          sync.Mutex
	ratePerSec  float64 // bytes/sec
	capacity    float64 // bytes
	tokens      float64
	lastRefill  time.Time
	now         func() time.Time
}

// NewTokenBucket creates a bucket refilling at bitrateBps/8 bytes/sec,
// with capacity for one average frame at frameRate fps (the "burst up to
// one frame" allowance).
func NewTokenBucket(bitrateBps int, frameRate int, now func() time.Time) *TokenBucket {
	if now == nil {
		now = time.Now
	}
	rate := float64(bitrateBps) / 8.0
	capacity := rate
	if frameRate > 0 {
		capacity = rate / float64(frameRate)
	}
	if capacity < rate/60 {
		capacity = rate / 60
	}
	return &TokenBucket{
		ratePerSec: rate,
		capacity:   capacity,
		tokens:     capacity,
		lastRefill: now(),
		now:        now,
	}
}

// SetRate updates the refill rate (bytes/sec derived from a new bitrate),
// used by adaptive bitrate stepping.
func (b *TokenBucket) SetRate(bitrateBps int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	b.ratePerSec = float64(bitrateBps) / 8.0
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.ratePerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// TryConsume attempts to charge n bytes against the bucket, returning
// whether there was sufficient budget.
func (b *TokenBucket) TryConsume(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens < float64(n) {
		return false
	}
	b.tokens -= float64(n)
	return true
}

// Sender owns one stream's outbound FIFO of WorkItems.
type Sender struct {
	mu sync.Mutex

	streamID      uint16
	generation    uint64
	maxPacketSize int
	payloadSize   int
	seq           uint32

	keys *security.SessionKeys // nil disables media encryption

	bucket *TokenBucket
	tx     Transmitter

	queue []WorkItem

	droppedFrames uint64
}

// NewSender creates a Sender for one stream.
func NewSender(streamID uint16, maxPacketSize int, tx Transmitter, bucket *TokenBucket, keys *security.SessionKeys) *Sender {
	return &Sender{
		streamID:      streamID,
		maxPacketSize: maxPacketSize,
		payloadSize:   wire.PayloadSize(maxPacketSize),
		tx:            tx,
		bucket:        bucket,
		keys:          keys,
	}
}

// BumpGeneration invalidates every currently enqueued item and all future
// ones tagged with the old generation. reason is purely diagnostic.
func (s *Sender) BumpGeneration(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	kept := s.queue[:0]
	for _, item := range s.queue {
		if item.Generation == s.generation {
			kept = append(kept, item)
		}
	}
	s.queue = kept
}

// Generation returns the sender's current generation counter. Callers
// enqueueing new WorkItems should stamp this value.
func (s *Sender) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Enqueue adds item to the FIFO if it is still current.
func (s *Sender) Enqueue(item WorkItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.Generation != s.generation {
		return
	}
	s.queue = append(s.queue, item)
}

// DroppedFrames reports the cumulative count of frames dropped under
// sustained rate-limit pressure (send_overrun).
func (s *Sender) DroppedFrames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedFrames
}

// Flush drains as much of the FIFO as the rate limiter currently allows,
// fragmenting and transmitting whole frames. Under sustained pressure it
// drops entire non-keyframe frames (never partial frames) from the head of
// the queue rather than transmitting a partial one.
func (s *Sender) Flush() error {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return nil
		}
		item := s.queue[0]
		if item.Generation != s.generation {
			s.queue = s.queue[1:]
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		frags, err := s.buildFragments(item)
		if err != nil {
			return err
		}
		total := 0
		for _, f := range frags {
			total += len(f)
		}
		if !s.bucket.TryConsume(total) {
			if item.Keyframe {
				// Never drop a keyframe silently; wait for budget.
				return nil
			}
			s.mu.Lock()
			if len(s.queue) > 0 && s.queue[0].FrameNumber == item.FrameNumber {
				s.queue = s.queue[1:]
			}
			s.droppedFrames++
			s.mu.Unlock()
			continue
		}

		for _, f := range frags {
			if err := s.tx.SendDatagram(f); err != nil {
				return err
			}
		}
		s.mu.Lock()
		if len(s.queue) > 0 && s.queue[0].FrameNumber == item.FrameNumber {
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()
	}
}

// buildFragments fragments one WorkItem into complete wire datagrams,
// encrypting each fragment payload first when media encryption is enabled
// and computing the CRC over whatever bytes are actually transmitted.
func (s *Sender) buildFragments(item WorkItem) ([][]byte, error) {
	fragmentCount := fragmentCountFor(len(item.Payload), s.payloadSize)

	out := make([][]byte, 0, fragmentCount)
	for i := 0; i < int(fragmentCount); i++ {
		start := i * s.payloadSize
		end := start + s.payloadSize
		if end > len(item.Payload) {
			end = len(item.Payload)
		}
		chunk := item.Payload[start:end]

		s.mu.Lock()
		seq := s.seq
		s.seq++
		s.mu.Unlock()

		flags := wire.Flags(0)
		if item.Keyframe {
			flags |= wire.FlagKeyframe
		}
		if i == int(fragmentCount)-1 {
			flags |= wire.FlagEndOfFrame
		}

		payload := chunk
		if s.keys != nil {
			payload = s.keys.Seal(seq, chunk)
		}

		h := &wire.Header{
			Version:        wire.Version,
			Flags:          flags,
			StreamID:       s.streamID,
			Sequence:       seq,
			TimestampNs:    item.TimestampNs,
			FrameNumber:    item.FrameNumber,
			FragmentIndex:  uint16(i),
			FragmentCount:  fragmentCount,
			PayloadLength:  uint32(len(payload)),
			FrameByteCount: uint32(len(item.Payload)),
			Checksum:       wire.Checksum(payload),
			ContentRect:    item.ContentRect,
			DimensionToken: item.DimensionToken,
			Epoch:          item.Epoch,
		}
		out = append(out, wire.AppendSerialize(nil, h)[:wire.HeaderSize])
		out[len(out)-1] = append(out[len(out)-1], payload...)
	}
	return out, nil
}

// fragmentCountFor computes ceil(frameByteCount/payloadSize), with a
// zero-byte frame always occupying exactly one fragment.
func fragmentCountFor(byteCount, payloadSize int) uint16 {
	if byteCount == 0 {
		return 1
	}
	return uint16(math.Ceil(float64(byteCount) / float64(payloadSize)))
}
