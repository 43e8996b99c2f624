package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/bryanchriswhite/EdgeViewer/internal/frame"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
)

// GStreamerSource runs gst-launch-1.0 as a subprocess and reads raw I420
// frames from its stdout. This avoids cgo GStreamer bindings entirely.
type GStreamerSource struct {
	cfg    Config
	frames chan *frame.RawFrame

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	lookPath func(string) (string, error)
}

// NewGStreamerSource creates a subprocess source. With a device configured it
// reads from v4l2src, otherwise from videotestsrc.
func NewGStreamerSource(cfg Config) *GStreamerSource {
	return &GStreamerSource{
		cfg:      cfg.withDefaults(),
		frames:   make(chan *frame.RawFrame),
		done:     make(chan struct{}),
		lookPath: exec.LookPath,
	}
}

func (g *GStreamerSource) Name() string {
	return "gstreamer"
}

// IsAvailable reports whether gst-launch-1.0 is on PATH and, when a device is
// configured, whether it exists.
func (g *GStreamerSource) IsAvailable() bool {
	if _, err := g.lookPath("gst-launch-1.0"); err != nil {
		return false
	}
	if g.cfg.Device != "" {
		if _, err := os.Stat(g.cfg.Device); err != nil {
			return false
		}
	}
	return true
}

func (g *GStreamerSource) Frames() <-chan *frame.RawFrame {
	return g.frames
}

// Pipeline returns the gst-launch pipeline description
func (g *GStreamerSource) Pipeline() string {
	var src string
	if g.cfg.Device != "" {
		src = fmt.Sprintf("v4l2src device=%s", g.cfg.Device)
	} else {
		pattern := g.cfg.Pattern
		if pattern == "" || pattern == PatternBars {
			pattern = "smpte"
		}
		src = fmt.Sprintf("videotestsrc is-live=true pattern=%s", pattern)
	}

	// Pipeline: source -> videoconvert -> scale/rate -> I420 -> raw output to stdout
	return fmt.Sprintf(
		"%s ! "+
			"videoconvert ! "+
			"videoscale ! "+
			"videorate ! "+
			"video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1 ! "+
			"fdsink fd=1 sync=false",
		src, g.cfg.Width, g.cfg.Height, g.cfg.FPS,
	)
}

// Start launches the subprocess
func (g *GStreamerSource) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return errAlreadyStarted
	}

	log := logger.WithComponent("capture")
	pipeline := g.Pipeline()
	log.Debug().Str("pipeline", pipeline).Msg("Starting GStreamer subprocess")

	ctx, cancel := context.WithCancel(ctx)

	// Use sh -c to properly parse the pipeline string with ! separators
	g.cmd = exec.CommandContext(ctx, "sh", "-c", "gst-launch-1.0 -q "+pipeline)

	stdout, err := g.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	g.stdout = stdout

	stderr, err := g.cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	g.stderr = stderr

	if err := g.cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start gst-launch: %w", err)
	}

	g.started = true
	g.cancel = cancel

	go g.readFrames(ctx)
	go g.logStderr()

	log.Info().
		Int("pid", g.cmd.Process.Pid).
		Int("width", g.cfg.Width).
		Int("height", g.cfg.Height).
		Msg("GStreamer subprocess started")
	return nil
}

// readFrames reads exactly one I420 frame at a time from stdout and hands it to
// the consumer. The next read starts only after the consumer closed the frame.
func (g *GStreamerSource) readFrames(ctx context.Context) {
	defer close(g.done)
	defer close(g.frames)

	log := logger.WithComponent("capture")
	reader := ReadI420(g.stdout, g.cfg.Width, g.cfg.Height)

	for {
		f, err := reader.Next()
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				log.Debug().Msg("EOF from GStreamer subprocess")
			} else {
				log.Error().Err(err).Msg("Error reading frame")
			}
			return
		}

		select {
		case g.frames <- f:
		case <-ctx.Done():
			f.Close()
			return
		}

		if err := reader.WaitReleased(ctx); err != nil {
			return
		}
	}
}

// logStderr logs any errors from the GStreamer subprocess
func (g *GStreamerSource) logStderr() {
	log := logger.WithComponent("capture")
	scanner := bufio.NewScanner(g.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// Stop kills the subprocess and waits for the reader to exit
func (g *GStreamerSource) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started || g.stopped {
		return nil
	}
	g.stopped = true

	log := logger.WithComponent("capture")

	g.cancel()
	if g.cmd != nil && g.cmd.Process != nil {
		log.Debug().Int("pid", g.cmd.Process.Pid).Msg("Killing GStreamer subprocess")
		g.cmd.Process.Kill()
		g.cmd.Wait()
	}
	<-g.done

	log.Info().Msg("GStreamer subprocess stopped")
	return nil
}

// I420Reader splits a byte stream into I420 frames backed by a single reused
// buffer.
type I420Reader struct {
	r        *bufio.Reader
	width    int
	height   int
	buf      []byte
	released chan struct{}
}

// ReadI420 wraps r
func ReadI420(r io.Reader, width, height int) *I420Reader {
	size := width * height * 3 / 2
	return &I420Reader{
		r:        bufio.NewReaderSize(r, size*2),
		width:    width,
		height:   height,
		buf:      make([]byte, size),
		released: make(chan struct{}, 1),
	}
}

// Next reads one frame. The returned frame aliases the reader's buffer and must
// be closed before Next is called again.
func (ir *I420Reader) Next() (*frame.RawFrame, error) {
	if _, err := io.ReadFull(ir.r, ir.buf); err != nil {
		return nil, err
	}
	return frame.FromI420(ir.buf, ir.width, ir.height, func() {
		ir.released <- struct{}{}
	})
}

// WaitReleased blocks until the last frame returned by Next is closed
func (ir *I420Reader) WaitReleased(ctx context.Context) error {
	select {
	case <-ir.released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
