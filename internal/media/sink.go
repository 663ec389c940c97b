package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/vp8"
)

var (
	ErrNoFrame     = errors.New("no video frame received yet")
	errNotKeyFrame = errors.New("not a keyframe")
)

// maxLate is the samplebuilder reorder window in packets.
const maxLate = 128

// Sink receives a remote video track and keeps its most recent picture.
type Sink interface {
	Attach(track *webrtc.TrackRemote)
	Clear()
	Snapshot() (image.Image, error)
}

// VP8Sink depacketizes a VP8 track and decodes its keyframes. When a record
// path is set, the raw stream is also written to an IVF file.
type VP8Sink struct {
	recordPath string

	mu     sync.Mutex
	gen    uint64
	latest image.Image
}

func NewVP8Sink(recordPath string) *VP8Sink {
	return &VP8Sink{recordPath: recordPath}
}

// Attach starts consuming track. A previously attached track stops
// contributing frames.
func (s *VP8Sink) Attach(track *webrtc.TrackRemote) {
	codec := track.Codec()
	if !strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8) {
		log.Warn().Str("module", "media.sink").Str("codec", codec.MimeType).Msg("unsupported remote codec, ignoring track")
		return
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.latest = nil
	s.mu.Unlock()

	go s.consume(gen, track, codec.ClockRate)
}

func (s *VP8Sink) consume(gen uint64, track *webrtc.TrackRemote, clockRate uint32) {
	logger := log.With().Str("module", "media.sink").Str("track", track.ID()).Logger()
	builder := samplebuilder.New(maxLate, &codecs.VP8Packet{}, clockRate)

	var recorder *ivfwriter.IVFWriter
	if s.recordPath != "" {
		w, err := ivfwriter.New(s.recordPath)
		if err != nil {
			logger.Error().Err(err).Str("file", s.recordPath).Msg("recorder unavailable")
		} else {
			recorder = w
			defer func() {
				if err := recorder.Close(); err != nil {
					logger.Warn().Err(err).Msg("close recorder")
				}
			}()
		}
	}

	logger.Info().Msg("receiving video")
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("track ended")
			return
		}
		if !s.current(gen) {
			return
		}

		if recorder != nil {
			if err := recorder.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Msg("record packet")
			}
		}

		builder.Push(pkt)
		for sample := builder.Pop(); sample != nil; sample = builder.Pop() {
			img, err := DecodeKeyFrame(sample.Data)
			if errors.Is(err, errNotKeyFrame) {
				continue
			}
			if err != nil {
				logger.Debug().Err(err).Msg("decode keyframe")
				continue
			}
			s.store(gen, img)
		}
	}
}

func (s *VP8Sink) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *VP8Sink) store(gen uint64, img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.latest = img
	}
}

// Clear detaches the current track and forgets the last picture.
func (s *VP8Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.latest = nil
}

func (s *VP8Sink) Snapshot() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, ErrNoFrame
	}
	return s.latest, nil
}

// DecodeKeyFrame decodes a complete VP8 keyframe. Inter frames yield
// errNotKeyFrame.
func DecodeKeyFrame(frame []byte) (image.Image, error) {
	if len(frame) == 0 || frame[0]&0x01 != 0 {
		return nil, errNotKeyFrame
	}

	d := vp8.NewDecoder()
	d.Init(bytes.NewReader(frame), len(frame))
	fh, err := d.DecodeFrameHeader()
	if err != nil {
		return nil, fmt.Errorf("frame header: %w", err)
	}
	if !fh.KeyFrame {
		return nil, errNotKeyFrame
	}

	img, err := d.DecodeFrame()
	if err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	return img, nil
}
