package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/fesh/pkg/fesh"
)

type compressParams struct {
	input    string
	output   string
	threads  int
	noVerify bool
}

func addCompressParams(cmd commander) *compressParams {
	params := &compressParams{}
	cmd.Arg("input", "ELF executable to encode.").Required().ExistingFileVar(&params.input)
	cmd.Arg("output", "Container path. Defaults to <input>.fes.").StringVar(&params.output)
	cmd.Flag("threads", "Streams encoded in parallel. Defaults to GOMAXPROCS.").Default("0").IntVar(&params.threads)
	cmd.Flag("no-verify", "Do not verify that the container reconstructs the input before writing it.").Default("false").BoolVar(&params.noVerify)
	return params
}

func compress(ctx context.Context, params *compressParams) error {
	raw, err := os.ReadFile(params.input)
	if err != nil {
		return err
	}

	engine := fesh.NewEngine(logger, prometheus.NewRegistry(), fesh.Options{
		Concurrency:   params.threads,
		SkipSelfCheck: params.noVerify,
	})
	start := time.Now()
	enc, err := engine.Compress(ctx, raw)
	if err != nil {
		return err
	}

	path := params.output
	if path == "" {
		path = params.input + ".fes"
	}
	if err := writeFileAtomic(path, enc, 0o644); err != nil {
		return err
	}

	level.Info(logger).Log(
		"msg", "container written",
		"path", path,
		"original", humanize.Bytes(uint64(len(raw))),
		"container", humanize.Bytes(uint64(len(enc))),
		"ratio", fmt.Sprintf("%.4f", float64(len(enc))/float64(len(raw))),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}
