// Command miraged is a thin host-side demonstration binary: it loads
// configuration, wires one stream's full capture/encoder/sender/transport/
// decoder/controller pipeline end to end with software stand-ins for the
// platform hardware (see demo.go), and serves prometheus metrics,
// mirroring the shape of the teacher's small cmd-style binaries that wire
// a config file into a long-running worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charmbracelet/log"

	mlog "github.com/mirageproto/mirage/internal/log"
	"github.com/mirageproto/mirage/controller"
	"github.com/mirageproto/mirage/encoder"
	"github.com/mirageproto/mirage/metrics"
	"github.com/mirageproto/mirage/sender"
	"github.com/mirageproto/mirage/streamhost"
	"github.com/mirageproto/mirage/wconfig"
	"github.com/mirageproto/mirage/wire"
)

// demoStreamID is the fixed stream identity the loopback demo pipeline
// runs under; a real host assigns one per registered client stream.
const demoStreamID = 1

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file")
	flag.Parse()

	cfg := wconfig.Default()
	if *configPath != "" {
		loaded, err := wconfig.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	backend := mlog.NewBackend(os.Stderr, cfg.Logging.Level)
	logger := backend.GetLogger("miraged")
	logger.Info("starting", "listen_addr", cfg.Network.ListenAddr)

	registrar := metrics.NewRegistrar()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registrar.Registry(), promhttp.HandlerOpts{}))
		logger.Info("serving metrics", "addr", cfg.Metrics.ListenAddr)
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
				logger.Error("metrics server exited", "err", err)
			}
		}()
	}

	streamMetrics, err := registrar.Register(demoStreamID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := runDemoStream(cfg, logger, streamMetrics); err != nil {
		logger.Error("demo stream failed", "err", err)
		os.Exit(1)
	}

	select {}
}

// runDemoStream wires one stream's full host-to-client pipeline using
// software stand-ins for capture/encode/decode hardware and a loopback
// transmitter in place of a real transport.Conn, exercising the same
// composition a real deployment wires across two processes and a QUIC
// connection.
func runDemoStream(cfg wconfig.Config, logger *log.Logger, streamMetrics *metrics.StreamMetrics) error {
	var ctrl *controller.Controller
	var stream *streamhost.Stream

	tx := &loopbackTransmitter{}
	bucket := sender.NewTokenBucket(cfg.Stream.BitrateBps, cfg.Stream.FrameRate, nil)
	snd := sender.NewSender(demoStreamID, cfg.Network.MaxPacketSize, tx, bucket, nil)

	encHW := &demoEncoderHW{}
	encSess := encoder.NewSession(encHW)
	counter := &frameCounter{}
	encHW.onFrame = func(ef encoder.EncodedFrame) {
		encSess.OnFrameComplete()
		snd.Enqueue(sender.WorkItem{
			Generation:     snd.Generation(),
			FrameNumber:    counter.next(),
			Keyframe:       ef.IsKeyframe,
			DimensionToken: stream.DimensionToken(),
			Epoch:          stream.Epoch(),
			ContentRect: wire.Rect{
				X: ef.ContentRect[0], Y: ef.ContentRect[1],
				W: ef.ContentRect[2], H: ef.ContentRect[3],
			},
			TimestampNs: uint64(ef.PresentationTimeNs),
			Payload:     ef.Bytes,
		})
		streamMetrics.SetActiveBitrate(cfg.Stream.BitrateBps)
		streamMetrics.SetTargetFrameRate(cfg.Stream.FrameRate)
		if err := snd.Flush(); err != nil {
			logger.Error("flush failed", "err", err)
		}
	}

	capture := &demoCapture{encSess: encSess}
	stream = streamhost.NewStream(demoStreamID, capture, encSess, snd)

	decoderHW := &demoDecoderHW{}
	notifier := &demoNotifier{logger: logger, encSess: encSess, stream: stream}
	ctrl = controller.NewController(decoderHW, notifier, nil)
	decoderHW.ctrl = ctrl
	tx.ctrl = ctrl

	base := controller.Size{W: baseWidth(cfg), H: baseHeight(cfg)}
	resolved := controller.AlignEven(controller.ResolveStreamScale(base, cfg.Stream.StreamScale, cfg.Stream.Uncapped))

	if err := ctrl.Create(context.Background(), resolved.W, resolved.H, cfg.Stream.FrameRate, stream.DimensionToken()); err != nil {
		return fmt.Errorf("miraged: create decoder session: %w", err)
	}

	hostCfg := streamhost.Config{
		BaseSize:         base,
		StreamScale:      cfg.Stream.StreamScale,
		Uncapped:         cfg.Stream.Uncapped,
		FrameRate:        cfg.Stream.FrameRate,
		BitrateBps:       cfg.Stream.BitrateBps,
		KeyFrameInterval: cfg.Stream.KeyFrameInterval,
	}
	if err := stream.Start(hostCfg); err != nil {
		return fmt.Errorf("miraged: start stream: %w", err)
	}
	stream.AllowEncodingAfterRegistration()

	go func() {
		ticker := time.NewTicker(16 * time.Millisecond)
		defer ticker.Stop()
		var lastDropped uint64
		for range ticker.C {
			ctrl.Tick()
			for {
				if _, ok := ctrl.PresentNext(); !ok {
					break
				}
			}
			if dropped := snd.DroppedFrames(); dropped > lastDropped {
				streamMetrics.AddDroppedFrames(int(dropped - lastDropped))
				lastDropped = dropped
			}
		}
	}()

	logger.Info("demo stream running",
		"stream_id", demoStreamID, "width", resolved.W, "height", resolved.H,
		"frame_rate", cfg.Stream.FrameRate, "bitrate_bps", cfg.Stream.BitrateBps)
	return nil
}

// baseWidth/baseHeight give the demo a fixed capture resolution; a real
// host learns these from the platform's active display instead.
func baseWidth(cfg wconfig.Config) int  { return 1920 }
func baseHeight(cfg wconfig.Config) int { return 1080 }
