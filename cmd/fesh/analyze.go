package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/fesh/pkg/elffile"
	"github.com/grafana/fesh/pkg/fesh"
	"github.com/grafana/fesh/pkg/transform"
)

type analyzeParams struct {
	input string
	sites bool
}

func addAnalyzeParams(cmd commander) *analyzeParams {
	params := &analyzeParams{}
	cmd.Arg("input", "ELF executable to analyze.").Required().ExistingFileVar(&params.input)
	cmd.Flag("sites", "List every IP-relative rewrite site in executable sections.").Default("false").BoolVar(&params.sites)
	return params
}

// analyze encodes the input in memory and prints per-stream statistics from
// the resulting container.
func analyze(ctx context.Context, params *analyzeParams) error {
	raw, err := os.ReadFile(params.input)
	if err != nil {
		return err
	}
	img, err := elffile.Load(raw)
	if err != nil {
		return err
	}

	out := output(ctx)
	if text, err := img.Text(); err == nil {
		stats := transform.AnalyzeCode(img.Bytes(text), text.Addr)
		fmt.Fprintf(out, "%s: %s, %d instructions, %d branch and %d RIP-relative rewrites, %d opaque bytes\n",
			text.Name, humanize.Bytes(text.Size), stats.Instructions,
			stats.Branches, stats.RIPRelative, stats.OpaqueBytes)
		if params.sites {
			for _, site := range transform.CodeSites(img.Bytes(text), text.Addr) {
				kind := "branch"
				if site.RIPRel {
					kind = "rip"
				}
				fmt.Fprintf(out, "  %#08x +%d/%d %s -> %#08x\n",
					text.Addr+site.Off, site.FieldOff, site.Len, kind, site.Target)
			}
		}
	}

	engine := fesh.NewEngine(logger, prometheus.NewRegistry(), fesh.Options{})
	enc, err := engine.Compress(ctx, raw)
	if err != nil {
		return err
	}
	c, err := fesh.ReadContainer(enc)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Stream", "Tag", "Kind", "Flags", "Runs", "Original", "Encoded", "%"})
	for i := range c.Streams {
		s := &c.Streams[i]
		name := s.Name
		if name == "" {
			name = "(residual)"
		}
		table.Append([]string{
			name,
			s.Tag.String(),
			s.Kind.String(),
			s.Flags.String(),
			fmt.Sprintf("%d", len(s.Runs)),
			humanize.Bytes(s.OrigLen),
			humanize.Bytes(uint64(len(s.Enc))),
			fmt.Sprintf("%.1f", float64(len(s.Enc))/float64(s.OrigLen)*100),
		})
	}
	table.Render()

	fmt.Fprintf(out, "container: %s from %s (%.2f%%)\n",
		humanize.Bytes(uint64(len(enc))), humanize.Bytes(uint64(len(raw))),
		float64(len(enc))/float64(len(raw))*100)
	return nil
}
