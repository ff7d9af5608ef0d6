// Package capture implements an optional, rate-limited sampler of inbound
// frames for offline protocol analysis. It is a diagnostic tee, never a
// trade-history store: sampled frames are batched in a bounded in-memory
// ring and periodically flushed to S3 via internal/capture/s3, and nothing
// in the engine ever reads them back.
package capture

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/dkowalczyk/pocketoption-engine/internal/capture/s3"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

// Config tunes the sampler. SampleRate is the fraction of inbound frames
// kept, in (0, 1]. BufferSize bounds the in-memory ring; once full, the
// oldest captured frame is dropped to make room for the newest, trading
// completeness for a fixed memory footprint.
type Config struct {
	SampleRate    float64
	BufferSize    int
	FlushInterval time.Duration
}

// DefaultConfig matches internal/config's CaptureConfig defaults.
func DefaultConfig() Config {
	return Config{SampleRate: 0.01, BufferSize: 512, FlushInterval: time.Minute}
}

// Archiver is the narrow interface the sampler needs from
// internal/capture/s3, kept separate so tests can substitute a fake.
type Archiver interface {
	Flush(ctx context.Context, batch []s3.CapturedFrame, flushedAt time.Time) (string, error)
}

// Sampler is a Middleware that tees a random sample of inbound frames into
// a bounded ring, flushed to the archiver on a fixed interval. It never
// returns an error from OnReceive/OnSend/OnConnect/OnDisconnect: a sampling
// or upload failure must never affect the live session.
type Sampler struct {
	cfg      Config
	archiver Archiver
	logger   *slog.Logger
	rand     *rand.Rand

	mu     sync.Mutex
	ring   []s3.CapturedFrame
	seqNum int64
}

// NewSampler builds a Sampler. A nil archiver disables flushing; captured
// frames still accumulate in the ring but Run never uploads them, useful
// for tests that only check sampling behavior.
func NewSampler(cfg Config, archiver Archiver, logger *slog.Logger) *Sampler {
	return &Sampler{
		cfg:      cfg,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "capture")),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		ring:     make([]s3.CapturedFrame, 0, cfg.BufferSize),
	}
}

// Run flushes the ring to the archiver on cfg.FlushInterval until ctx is
// cancelled, performing one final flush on exit so the last partial batch
// isn't lost.
func (s *Sampler) Run(ctx context.Context) {
	if s.archiver == nil {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			return
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

func (s *Sampler) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.ring) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.ring
	s.ring = make([]s3.CapturedFrame, 0, s.cfg.BufferSize)
	s.mu.Unlock()

	now := time.Now()
	path, err := s.archiver.Flush(ctx, batch, now)
	if err != nil {
		s.logger.Warn("flush capture batch", slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("flushed capture batch", slog.String("path", path), slog.Int("frames", len(batch)))
}

func (s *Sampler) sample(f domain.Frame) {
	if s.cfg.SampleRate <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.SampleRate < 1 && s.rand.Float64() >= s.cfg.SampleRate {
		return
	}

	kind := "text"
	if f.Kind == domain.FrameBinary {
		kind = "binary"
	}
	s.seqNum++
	cf := s3.CapturedFrame{SeqNum: s.seqNum, Kind: kind, Payload: append([]byte(nil), f.Data...), CapturedAt: time.Now()}

	if len(s.ring) >= s.cfg.BufferSize {
		s.ring = s.ring[1:]
	}
	s.ring = append(s.ring, cf)
}

func (s *Sampler) OnReceive(f domain.Frame) error {
	s.sample(f)
	return nil
}

func (s *Sampler) OnSend(f domain.Frame) error { return nil }
func (s *Sampler) OnConnect() error            { return nil }
func (s *Sampler) OnDisconnect() error         { return nil }
