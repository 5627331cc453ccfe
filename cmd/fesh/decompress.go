package main

import (
	"context"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/fesh/pkg/fesh"
)

type decompressParams struct {
	input  string
	output string
}

func addDecompressParams(cmd commander) *decompressParams {
	params := &decompressParams{}
	cmd.Arg("input", "Container to reconstruct from.").Required().ExistingFileVar(&params.input)
	cmd.Arg("output", "Executable path. Defaults to <input> without its .fes suffix.").StringVar(&params.output)
	return params
}

func decompress(ctx context.Context, params *decompressParams) error {
	enc, err := os.ReadFile(params.input)
	if err != nil {
		return err
	}

	engine := fesh.NewEngine(logger, prometheus.NewRegistry(), fesh.Options{})
	raw, err := engine.Decompress(ctx, enc)
	if err != nil {
		return err
	}

	path := params.output
	if path == "" {
		path = strings.TrimSuffix(params.input, ".fes")
		if path == params.input {
			path = params.input + ".elf"
		}
	}
	if err := writeFileAtomic(path, raw, 0o755); err != nil {
		return err
	}

	level.Info(logger).Log(
		"msg", "executable reconstructed",
		"path", path,
		"size", humanize.Bytes(uint64(len(raw))),
	)
	return nil
}
