// Package metrics exposes per-stream encoding/delivery metrics through
// prometheus/client_golang, keyed by StreamID with explicit Register/
// Deregister so that a stream's gauges never leak into the next stream
// that happens to reuse its ID. Grounded on spec.md §9's design note that
// global singletons "must be keyed by StreamID with isolation guaranteed";
// the teacher's go.mod already carries prometheus/client_golang for its
// own node-level metrics.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics is one stream's registered metric set.
type StreamMetrics struct {
	streamID uint16
	registry *prometheus.Registry

	encodedFPS     prometheus.Gauge
	idleEncodedFPS prometheus.Gauge
	droppedFrames  prometheus.Counter
	queueDrops     prometheus.Counter
	targetRate     prometheus.Gauge
	activeBitrate  prometheus.Gauge
}

// Registrar owns the process-wide registry and the live set of per-stream
// metrics, providing the explicit init/teardown spec.md's design notes
// require of any process-wide singleton.
type Registrar struct {
	mu       sync.Mutex
	registry *prometheus.Registry
	streams  map[uint16]*StreamMetrics
}

// NewRegistrar creates a Registrar wrapping a fresh prometheus registry.
func NewRegistrar() *Registrar {
	return &Registrar{
		registry: prometheus.NewRegistry(),
		streams:  make(map[uint16]*StreamMetrics),
	}
}

// Registry returns the underlying prometheus registry for exposition.
func (r *Registrar) Registry() *prometheus.Registry { return r.registry }

// Register creates and registers the gauge/counter set for streamID.
// Registering an already-registered streamID is an error: streams must be
// deregistered before their ID may be reused.
func (r *Registrar) Register(streamID uint16) (*StreamMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.streams[streamID]; exists {
		return nil, fmt.Errorf("metrics: stream %d already registered", streamID)
	}

	labels := prometheus.Labels{"stream_id": fmt.Sprintf("%d", streamID)}
	m := &StreamMetrics{
		streamID: streamID,
		registry: r.registry,
		encodedFPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mirage_stream_encoded_fps", Help: "Current encoded frames per second.", ConstLabels: labels,
		}),
		idleEncodedFPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mirage_stream_idle_encoded_fps", Help: "Encoded frames per second while idle.", ConstLabels: labels,
		}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mirage_stream_dropped_frames_total", Help: "Frames dropped by the sender under rate pressure.", ConstLabels: labels,
		}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mirage_stream_queue_drops_total", Help: "Presentation queue emergency-trim drops.", ConstLabels: labels,
		}),
		targetRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mirage_stream_target_frame_rate", Help: "Configured target frame rate.", ConstLabels: labels,
		}),
		activeBitrate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mirage_stream_active_bitrate_bps", Help: "Currently active encoder bitrate in bits/sec.", ConstLabels: labels,
		}),
	}

	collectors := []prometheus.Collector{
		m.encodedFPS, m.idleEncodedFPS, m.droppedFrames, m.queueDrops, m.targetRate, m.activeBitrate,
	}
	for _, c := range collectors {
		if err := r.registry.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register stream %d: %w", streamID, err)
		}
	}

	r.streams[streamID] = m
	return m, nil
}

// Deregister removes streamID's metric set from the registry, freeing its
// ID for reuse by a later stream.
func (r *Registrar) Deregister(streamID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.streams[streamID]
	if !ok {
		return
	}
	r.registry.Unregister(m.encodedFPS)
	r.registry.Unregister(m.idleEncodedFPS)
	r.registry.Unregister(m.droppedFrames)
	r.registry.Unregister(m.queueDrops)
	r.registry.Unregister(m.targetRate)
	r.registry.Unregister(m.activeBitrate)
	delete(r.streams, streamID)
}

// SetEncodedFPS records the current encoded frame rate.
func (m *StreamMetrics) SetEncodedFPS(fps float64) { m.encodedFPS.Set(fps) }

// SetIdleEncodedFPS records the idle-state encoded frame rate.
func (m *StreamMetrics) SetIdleEncodedFPS(fps float64) { m.idleEncodedFPS.Set(fps) }

// AddDroppedFrames increments the dropped-frame counter by n.
func (m *StreamMetrics) AddDroppedFrames(n int) { m.droppedFrames.Add(float64(n)) }

// AddQueueDrops increments the presentation-queue drop counter by n.
func (m *StreamMetrics) AddQueueDrops(n int) { m.queueDrops.Add(float64(n)) }

// SetTargetFrameRate records the stream's currently configured target
// frame rate.
func (m *StreamMetrics) SetTargetFrameRate(rate int) { m.targetRate.Set(float64(rate)) }

// SetActiveBitrate records the encoder's currently active bitrate.
func (m *StreamMetrics) SetActiveBitrate(bps int) { m.activeBitrate.Set(float64(bps)) }
