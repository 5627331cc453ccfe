package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"gopkg.in/alecthomas/kingpin.v2"
)

var cfg struct {
	verbose bool
}

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
)

func main() {
	ctx := withOutput(context.Background(), os.Stdout)

	app := kingpin.New(filepath.Base(os.Args[0]), "Reversible pre-compression transform for x86-64 ELF executables.").UsageWriter(os.Stdout)
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("0").BoolVar(&cfg.verbose)

	compressCmd := app.Command("compress", "Encode an ELF executable as a .fes container.")
	compressParams := addCompressParams(compressCmd)

	decompressCmd := app.Command("decompress", "Reconstruct the original executable from a .fes container.").Alias("extract")
	decompressParams := addDecompressParams(decompressCmd)

	compareCmd := app.Command("compare", "Measure the container against general-purpose compressors.")
	compareParams := addCompareParams(compareCmd)

	analyzeCmd := app.Command("analyze", "Show how an executable splits into streams.").Alias("inspect")
	analyzeParams := addAnalyzeParams(analyzeCmd)

	// parse command line arguments
	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// enable verbose logging if requested
	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	switch parsedCmd {
	case compressCmd.FullCommand():
		os.Exit(checkError(compress(ctx, compressParams)))
	case decompressCmd.FullCommand():
		os.Exit(checkError(decompress(ctx, decompressParams)))
	case compareCmd.FullCommand():
		os.Exit(checkError(compare(ctx, compareParams)))
	case analyzeCmd.FullCommand():
		os.Exit(checkError(analyze(ctx, analyzeParams)))
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
	}
}

func checkError(err error) int {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

type commander interface {
	Flag(name, help string) *kingpin.FlagClause
	Arg(name, help string) *kingpin.ArgClause
}

type contextKey uint8

const (
	contextKeyOutput contextKey = iota
)

func withOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, contextKeyOutput, w)
}

func output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(contextKeyOutput).(io.Writer); ok {
		return w
	}
	return os.Stdout
}
