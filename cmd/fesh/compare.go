package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/fesh/pkg/codec"
	"github.com/grafana/fesh/pkg/fesh"
)

type compareParams struct {
	inputs []string
}

func addCompareParams(cmd commander) *compareParams {
	params := &compareParams{}
	cmd.Arg("input", "ELF executable(s) to measure.").Required().ExistingFilesVar(&params.inputs)
	return params
}

// compare encodes each input both ways and prints how the container stacks
// up against general-purpose compressors applied to the untransformed file.
func compare(ctx context.Context, params *compareParams) error {
	engine := fesh.NewEngine(logger, prometheus.NewRegistry(), fesh.Options{})

	table := tablewriter.NewWriter(output(ctx))
	table.SetHeader([]string{"File", "Original", "Gzip", "Zstd", "XZ", "Fesh", "vs XZ"})

	for _, path := range params.inputs {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		enc, err := engine.Compress(ctx, raw)
		if err != nil {
			return err
		}
		gzipSize, err := codec.GzipSize(raw)
		if err != nil {
			return err
		}
		zstdSize, err := codec.ZstdSize(raw)
		if err != nil {
			return err
		}
		xzSize, err := codec.XZSize(raw)
		if err != nil {
			return err
		}
		table.Append([]string{
			filepath.Base(path),
			humanize.Bytes(uint64(len(raw))),
			humanize.Bytes(uint64(gzipSize)),
			humanize.Bytes(uint64(zstdSize)),
			humanize.Bytes(uint64(xzSize)),
			humanize.Bytes(uint64(len(enc))),
			fmt.Sprintf("%+.2f%%", (float64(len(enc))/float64(xzSize)-1)*100),
		})
	}
	table.Render()
	return nil
}
