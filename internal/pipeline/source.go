package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync/atomic"
	"time"

	"crashwatch/internal/cache"
)

// FrameSource produces a continuous sequence of frames for one stream,
// writing each into the stream's frame cache with overwrite semantics.
// Implementations retry transient failures forever and never escalate
// errors beyond their own stream.
type FrameSource interface {
	// Run captures frames until ctx is cancelled.
	Run(ctx context.Context)

	// Status summarizes current source health.
	Status() StreamStatus

	// Stats returns acquisition counters.
	Stats() SourceStats
}

const (
	restartBackoffStart = time.Second
	restartBackoffMax   = 30 * time.Second
)

// FFmpegSource decodes a continuous feed (HLS/RTSP/HTTP) through an ffmpeg
// subprocess emitting MJPEG on stdout. On unexpected process exit it
// restarts with exponential backoff; the stream shows as degraded until a
// fresh frame arrives again.
type FFmpegSource struct {
	streamID string
	url      string
	fps      int

	frames *cache.Latest[Frame]
	health *sourceHealth

	seq      atomic.Uint64
	captured atomic.Uint64
	restarts atomic.Uint64
}

// NewFFmpegSource creates a continuous-feed source for one stream.
// liveness is the window after which a silent feed is reported degraded,
// typically 2x the expected frame interval.
func NewFFmpegSource(streamID, url string, fps int, liveness time.Duration, frames *cache.Latest[Frame]) *FFmpegSource {
	return &FFmpegSource{
		streamID: streamID,
		url:      url,
		fps:      fps,
		frames:   frames,
		health:   newSourceHealth(liveness),
	}
}

func (s *FFmpegSource) Status() StreamStatus { return s.health.status() }

func (s *FFmpegSource) Stats() SourceStats {
	last, _ := s.health.lastFrameAt()
	var lastUnix int64
	if !last.IsZero() {
		lastUnix = last.Unix()
	}
	return SourceStats{
		FramesCaptured: s.captured.Load(),
		Restarts:       s.restarts.Load(),
		LastFrameUnix:  lastUnix,
	}
}

// Run starts the decode process and restarts it on failure until ctx is
// cancelled. Failures stay inside this stream.
func (s *FFmpegSource) Run(ctx context.Context) {
	backoff := restartBackoffStart
	for {
		delivered, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("[Source] %s: ffmpeg exited: %v", s.streamID, err)
		}
		s.health.markFailure()
		s.restarts.Add(1)

		if delivered > 0 {
			backoff = restartBackoffStart
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > restartBackoffMax {
			backoff = restartBackoffMax
		}
	}
}

// runOnce runs a single ffmpeg process to completion and returns the
// number of frames it delivered.
func (s *FFmpegSource) runOnce(ctx context.Context) (uint64, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", s.url,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", fmt.Sprintf("%d", s.fps),
		"-q:v", "2",
		"-",
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		s.health.markFatal()
		return 0, fmt.Errorf("start ffmpeg: %w", err)
	}

	var delivered uint64
	buffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&buffer)
				if frame == nil {
					break
				}
				s.publish(frame)
				delivered++
			}
		}
		if err != nil {
			waitErr := cmd.Wait()
			if err != io.EOF {
				return delivered, err
			}
			return delivered, waitErr
		}
	}
}

func (s *FFmpegSource) publish(data []byte) {
	now := time.Now().UTC()
	s.frames.Set(Frame{
		StreamID:   s.streamID,
		Data:       data,
		Seq:        s.seq.Add(1),
		CapturedAt: now,
	})
	s.captured.Add(1)
	s.health.markFrame(now)
}

// extractJPEGFrame pulls one complete JPEG (SOI..EOI) out of buffer,
// consuming the bytes it used. Returns nil when no complete frame is
// available yet. The returned slice is freshly allocated, never an alias
// into buffer.
func extractJPEGFrame(buffer *[]byte) []byte {
	b := *buffer
	if len(b) < 4 {
		return nil
	}

	start := -1
	for i := 0; i < len(b)-1; i++ {
		if b[i] == 0xFF && b[i+1] == 0xD8 {
			start = i
			break
		}
	}
	if start == -1 {
		// No SOI anywhere: only the final byte could begin a marker
		// split across reads. Dropping the rest keeps a corrupt feed
		// from growing the buffer without bound.
		*buffer = b[len(b)-1:]
		return nil
	}

	end := -1
	for i := start + 2; i < len(b)-1; i++ {
		if b[i] == 0xFF && b[i+1] == 0xD9 {
			end = i + 2
			break
		}
	}
	if end == -1 {
		if start > 0 {
			*buffer = b[start:]
		}
		return nil
	}

	frame := make([]byte, end-start)
	copy(frame, b[start:end])
	*buffer = b[end:]
	return frame
}
