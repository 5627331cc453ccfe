package fesh

import (
	"bytes"
	"context"
	"runtime"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/fesh/pkg/codec"
	"github.com/grafana/fesh/pkg/elffile"
)

// Options tunes an Engine.
type Options struct {
	// Concurrency bounds parallel stream encoding and decoding. Zero means
	// GOMAXPROCS.
	Concurrency int

	// SkipSelfCheck drops the compress-time reconstruction check. The check
	// is what turns a transform bug into a failed compression instead of an
	// unrecoverable container, so only tests set this.
	SkipSelfCheck bool
}

// Engine turns x86_64 ELF executables into .fes containers and back. An
// Engine is safe for concurrent use; the logger it is given must be too.
type Engine struct {
	logger  log.Logger
	metrics *metrics
	opts    Options
}

func NewEngine(logger log.Logger, reg prometheus.Registerer, opts Options) *Engine {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		logger:  logger,
		metrics: newMetrics(reg),
		opts:    opts,
	}
}

// Compress transforms raw into a .fes container. The container is returned
// only after it has been reconstructed in memory and compared to raw byte
// for byte; a mismatch aborts with ErrRoundTripMismatch and no output.
func (e *Engine) Compress(ctx context.Context, raw []byte) ([]byte, error) {
	enc, err := e.compress(ctx, raw)
	if err != nil {
		e.metrics.compressionFailures.Inc()
		return nil, err
	}
	e.metrics.compressions.Inc()
	e.metrics.originalBytes.Add(float64(len(raw)))
	e.metrics.encodedBytes.Add(float64(len(enc)))
	return enc, nil
}

func (e *Engine) compress(ctx context.Context, raw []byte) ([]byte, error) {
	img, err := elffile.Load(raw)
	if err != nil {
		return nil, err
	}

	var textLo, textHi uint64
	if text := img.Section(".text"); text != nil {
		textLo, textHi = text.Addr, text.Addr+text.Size
	}

	sections := planStreams(img)
	if len(sections) == 0 {
		level.Debug(e.logger).Log("msg", "no executable section, nothing to transform")
	}
	streams := make([]Stream, len(sections)+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, sec := range sections {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, data := buildStream(img, sec, textLo, textHi)
			enc, err := codec.Encode(data, profileFor(s.Tag))
			if err != nil {
				return errors.Wrapf(err, "stream %s", s.Name)
			}
			s.Enc = enc
			streams[i] = s
			return nil
		})
	}
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		data := gatherResidual(raw, sections)
		s := Stream{Tag: TagOpaque, OrigLen: uint64(len(data))}
		if len(data) > 0 {
			enc, err := codec.Encode(data, profileFor(TagOpaque))
			if err != nil {
				return errors.Wrap(err, "residual stream")
			}
			s.Enc = enc
		}
		streams[len(sections)] = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if streams[len(sections)].OrigLen == 0 {
		streams = streams[:len(sections)]
	}

	c := &Container{
		OrigSize: uint64(len(raw)),
		OrigHash: xxhash.Sum64(raw),
		Streams:  streams,
	}
	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		return nil, err
	}

	if !e.opts.SkipSelfCheck {
		if err := e.selfCheck(ctx, buf.Bytes(), raw); err != nil {
			return nil, err
		}
	}

	for i := range streams {
		s := &streams[i]
		level.Debug(e.logger).Log(
			"msg", "stream encoded",
			"name", s.Name,
			"tag", s.Tag,
			"flags", s.Flags,
			"runs", len(s.Runs),
			"orig", s.OrigLen,
			"enc", len(s.Enc),
		)
	}
	level.Debug(e.logger).Log("msg", "container built",
		"orig_size", len(raw), "size", buf.Len(), "streams", len(streams))
	return buf.Bytes(), nil
}

// selfCheck runs the real reconstruction path over a freshly built
// container and demands the exact input back. Positional rewrites can in
// principle desync on pathological byte sequences whose decode changes
// under the rewrite itself; this is the backstop that turns such an input
// into a refused compression instead of a corrupt archive.
func (e *Engine) selfCheck(ctx context.Context, enc, raw []byte) error {
	back, err := e.reconstruct(ctx, enc)
	if err != nil {
		e.metrics.selfCheckFailures.Inc()
		return errors.WithMessage(ErrRoundTripMismatch, err.Error())
	}
	if !bytes.Equal(back, raw) {
		e.metrics.selfCheckFailures.Inc()
		return ErrRoundTripMismatch
	}
	return nil
}

// Decompress reconstructs the original executable from a container built by
// Compress. The result is verified against the recorded content hash before
// it is returned.
func (e *Engine) Decompress(ctx context.Context, enc []byte) ([]byte, error) {
	raw, err := e.reconstruct(ctx, enc)
	if err != nil {
		e.metrics.decompressionFailures.Inc()
		return nil, err
	}
	e.metrics.decompressions.Inc()
	return raw, nil
}

func (e *Engine) reconstruct(ctx context.Context, enc []byte) ([]byte, error) {
	c, err := ReadContainer(enc)
	if err != nil {
		return nil, err
	}

	decoded := make([][]byte, len(c.Streams))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i := range c.Streams {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := &c.Streams[i]
			if s.OrigLen == 0 {
				return nil
			}
			data, err := codec.Decode(s.Enc, int(s.OrigLen))
			if err != nil {
				return corruptf("stream %q: %v", s.Name, err)
			}
			if err := invertStream(s, data); err != nil {
				return err
			}
			decoded[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]byte, c.OrigSize)
	var residual []byte
	for i := range c.Streams {
		s := &c.Streams[i]
		if s.Tag == TagOpaque {
			residual = decoded[i]
			continue
		}
		copy(out[s.FileOff:], decoded[i])
	}
	scatterResidual(out, c.Streams, residual)

	if got := xxhash.Sum64(out); got != c.OrigHash {
		return nil, corruptf("content hash mismatch: got %016x, want %016x", got, c.OrigHash)
	}
	return out, nil
}
