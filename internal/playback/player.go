package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/go-mp3"
)

type DeviceConfig struct {
	// SampleRate is the output device rate. Segments at other rates are
	// resampled. Default 24000, the backend's usual synthesis rate.
	SampleRate int
	// Channels is the device channel count. Default 2.
	Channels int
}

func (c DeviceConfig) withDefaults() DeviceConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 24000
	}
	if c.Channels <= 0 {
		c.Channels = 2
	}
	return c
}

// DevicePlayer plays segments on the system audio device through oto.
// The oto context is created on first use; a process gets exactly one.
type DevicePlayer struct {
	cfg DeviceConfig
	log *slog.Logger

	initOnce sync.Once
	initErr  error
	otoCtx   *oto.Context
}

func NewDevicePlayer(cfg DeviceConfig, log *slog.Logger) *DevicePlayer {
	if log == nil {
		log = slog.Default()
	}
	return &DevicePlayer{
		cfg: cfg.withDefaults(),
		log: log.With("component", "player"),
	}
}

func (p *DevicePlayer) ensureContext() error {
	p.initOnce.Do(func() {
		otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   p.cfg.SampleRate,
			ChannelCount: p.cfg.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			p.initErr = fmt.Errorf("init audio device: %w", err)
			return
		}
		<-ready
		p.otoCtx = otoCtx
	})
	return p.initErr
}

// Play decodes the segment and blocks until the device has played it,
// the segment fails to decode, or ctx is cancelled.
func (p *DevicePlayer) Play(ctx context.Context, seg Segment) error {
	pcm, err := p.decode(seg)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}

	if err := p.ensureContext(); err != nil {
		return err
	}

	player := p.otoCtx.NewPlayer(bytes.NewReader(pcm))
	player.Play()
	defer player.Close()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !player.IsPlaying() {
				return nil
			}
		}
	}
}

// decode turns the segment payload into interleaved s16le at the device
// rate and channel count.
func (p *DevicePlayer) decode(seg Segment) ([]byte, error) {
	var samples []int16
	var rate, channels int

	switch strings.ToLower(seg.Format) {
	case "mp3", "mpeg":
		dec, err := mp3.NewDecoder(bytes.NewReader(seg.Data))
		if err != nil {
			return nil, fmt.Errorf("decode mp3 segment: %w", err)
		}
		raw, err := io.ReadAll(dec)
		if err != nil {
			return nil, fmt.Errorf("read mp3 segment: %w", err)
		}
		samples = pcmBytesToInt16(raw)
		rate = dec.SampleRate()
		channels = 2
	case "wav", "wave":
		info, err := parseWAV(seg.Data)
		if err != nil {
			return nil, fmt.Errorf("decode wav segment: %w", err)
		}
		samples = pcmBytesToInt16(info.data)
		rate = info.sampleRate
		channels = info.channels
	case "pcm", "s16le":
		samples = pcmBytesToInt16(seg.Data)
		rate = p.cfg.SampleRate
		channels = 1
	default:
		return nil, fmt.Errorf("unsupported audio format %q", seg.Format)
	}

	if channels == 1 && p.cfg.Channels == 2 {
		samples = monoToStereo(samples)
		channels = 2
	}
	if channels != p.cfg.Channels {
		return nil, fmt.Errorf("segment has %d channels, device expects %d", channels, p.cfg.Channels)
	}
	if rate != p.cfg.SampleRate {
		samples = resampleInterleaved(samples, channels, rate, p.cfg.SampleRate)
	}

	return int16ToPCMBytes(samples), nil
}

func (p *DevicePlayer) Close() error {
	// oto contexts have no teardown; suspending stops the device thread.
	if p.otoCtx != nil {
		return p.otoCtx.Suspend()
	}
	return nil
}

// NopPlayer discards segments after a token delay. Used when audio output
// is disabled (headless runs) so the rest of the pipeline still exercises
// queue semantics.
type NopPlayer struct{}

func (NopPlayer) Play(ctx context.Context, seg Segment) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Millisecond):
		return nil
	}
}

func (NopPlayer) Close() error { return nil }
