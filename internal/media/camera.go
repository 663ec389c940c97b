// Package media provides the broadcaster's camera source and the viewer's
// video sink.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog/log"
)

var ErrUnsupportedCodec = errors.New("camera file is not VP8")

const defaultFrameDuration = 33 * time.Millisecond

// Camera opens a local video source.
type Camera interface {
	Open(ctx context.Context) (Source, error)
}

// Source is an open camera. Its tracks carry samples until Close.
type Source interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

// IVFCamera plays a VP8 IVF file in a loop and exposes it as a video track.
type IVFCamera struct {
	Path string
}

func (c IVFCamera) Open(ctx context.Context) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("camera unavailable: %w", err)
	}

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read ivf header: %w", err)
	}
	if header.FourCC != "VP80" {
		f.Close()
		return nil, fmt.Errorf("%w: fourcc %q", ErrUnsupportedCodec, header.FourCC)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "fabcam",
	)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create track: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	src := &ivfSource{
		file:     f,
		reader:   reader,
		track:    track,
		duration: frameDuration(header),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go src.run(runCtx)

	log.Info().Str("module", "media.camera").Str("file", c.Path).
		Uint16("width", header.Width).Uint16("height", header.Height).
		Dur("frame", src.duration).Msg("camera opened")
	return src, nil
}

func frameDuration(h *ivfreader.IVFFileHeader) time.Duration {
	if h.TimebaseDenominator == 0 || h.TimebaseNumerator == 0 {
		return defaultFrameDuration
	}
	d := time.Duration(float64(time.Second) * float64(h.TimebaseNumerator) / float64(h.TimebaseDenominator))
	if d <= 0 {
		return defaultFrameDuration
	}
	return d
}

type ivfSource struct {
	file     *os.File
	reader   *ivfreader.IVFReader
	track    *webrtc.TrackLocalStaticSample
	duration time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (s *ivfSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

func (s *ivfSource) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, _, err := s.reader.ParseNextFrame()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if err = s.rewind(); err == nil {
				continue
			}
		}
		if err != nil {
			log.Error().Err(err).Str("module", "media.camera").Msg("camera read failed")
			return
		}

		if err := s.track.WriteSample(pionmedia.Sample{Data: frame, Duration: s.duration}); err != nil {
			log.Debug().Err(err).Str("module", "media.camera").Msg("write sample failed")
		}
	}
}

// rewind restarts playback from the first frame.
func (s *ivfSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := ivfreader.NewWith(s.file)
	if err != nil {
		return err
	}
	s.reader = reader
	return nil
}

func (s *ivfSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		err = s.file.Close()
	})
	return err
}
