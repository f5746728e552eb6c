package controller

import (
	"github.com/mirageproto/mirage/reassembler"
)

// DecodeSink is the decoder-facing collaborator the pipeline drives.
type DecodeSink interface {
	Submit(bytes []byte, presentationTimeNs int64, isKeyframe bool) error
}

// Pipeline is the single consumer that reads reassembled frames in
// strictly ascending order and invokes the decoder sequentially. Spec.md
// forbids out-of-order consumption because it would corrupt P-frame
// references; this type exists precisely to make that single-consumer
// invariant structural rather than a convention callers must uphold.
type Pipeline struct {
	in   <-chan reassembler.Frame
	sink DecodeSink
}

// NewPipeline creates a Pipeline reading from in and feeding sink.
func NewPipeline(in <-chan reassembler.Frame, sink DecodeSink) *Pipeline {
	return &Pipeline{in: in, sink: sink}
}

// Run drains in until it closes, submitting each frame to sink in order.
// Intended to be launched as the pipeline's one consumer goroutine.
func (p *Pipeline) Run() error {
	for frame := range p.in {
		if err := p.sink.Submit(frame.Payload, int64(frame.TimestampNs), frame.Keyframe); err != nil {
			return err
		}
	}
	return nil
}
