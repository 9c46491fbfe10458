// mrdriver exercises a heap with the rover write scenarios and prints the
// results.
package main

import (
	"fmt"
	"io"
	"os"

	robustalloc "github.com/PipMY/MarsRoverRobustMemoryAllocator"
	"github.com/PipMY/MarsRoverRobustMemoryAllocator/allocator"
	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/slog"
)

var (
	ConfigFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	SizeFlag = &cli.IntFlag{
		Name:  "size",
		Usage: "heap size in bytes",
		Value: 32768,
	}
	PlacementFlag = &cli.StringFlag{
		Name:  "placement",
		Usage: "block placement policy (first-fit|best-fit)",
		Value: "first-fit",
	}
	BackingFlag = &cli.StringFlag{
		Name:  "backing",
		Usage: "backing memory (heap|mmap)",
		Value: "heap",
	}
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "log level (debug|info|warn|error)",
		Value: "warn",
	}
)

var dumpConfigCommand = &cli.Command{
	Name:   "dumpconfig",
	Usage:  "Show configuration values",
	Action: dumpConfig,
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mrdriver",
		Usage: "exercise the rover heap allocator",
		Flags: []cli.Flag{
			ConfigFileFlag,
			SizeFlag,
			PlacementFlag,
			BackingFlag,
			VerbosityFlag,
		},
		Commands: []*cli.Command{
			dumpConfigCommand,
		},
		Action: run,
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// makeConfig applies the config file and then explicitly set flags on top
// of the defaults.
func makeConfig(ctx *cli.Context) (robustalloc.Config, error) {
	conf := robustalloc.DefaultConfig()
	if file := ctx.String(ConfigFileFlag.Name); file != "" {
		if err := robustalloc.LoadConfig(file, &conf); err != nil {
			return conf, err
		}
	}
	if ctx.IsSet(SizeFlag.Name) {
		conf.Size = ctx.Int(SizeFlag.Name)
	}
	if ctx.IsSet(PlacementFlag.Name) {
		conf.Placement = ctx.String(PlacementFlag.Name)
	}
	if ctx.IsSet(BackingFlag.Name) {
		conf.Backing = ctx.String(BackingFlag.Name)
	}
	return conf, nil
}

func makeLogger(ctx *cli.Context) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(ctx.String(VerbosityFlag.Name))); err != nil {
		return nil, errors.Wrap(err, "verbosity")
	}
	handler := slog.NewTextHandler(ctx.App.ErrWriter, &slog.HandlerOptions{Level: level})
	return slog.New(handler), nil
}

func dumpConfig(ctx *cli.Context) error {
	conf, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	return robustalloc.WriteConfig(ctx.App.Writer, conf)
}

func run(ctx *cli.Context) error {
	conf, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := makeLogger(ctx)
	if err != nil {
		return err
	}

	heap, err := robustalloc.NewHeap(conf, logger)
	if err != nil {
		return errors.Wrap(err, "init heap")
	}
	defer func() {
		if err := heap.Close(); err != nil {
			logger.Warn("Closing heap failed", "err", err)
		}
	}()

	out := ctx.App.Writer
	if err := singleBlock(out, logger, heap); err != nil {
		return err
	}
	if err := multiBlock(out, logger, heap); err != nil {
		return err
	}

	heap.Dump()
	return heap.Validate()
}

// status converts a write result to the driver's 0 / -1 convention.
func status(_ int, err error) int {
	if err != nil {
		return -1
	}
	return 0
}

// release frees a scenario block. A rejected free ends the run.
func release(logger *slog.Logger, heap *robustalloc.Heap, p allocator.Handle) error {
	if err := heap.Free(p); err != nil {
		logger.Warn("Scenario free failed", "handle", p.String(), "err", err)
		return errors.Wrapf(err, "free %s", p)
	}
	return nil
}

func singleBlock(out io.Writer, logger *slog.Logger, heap *robustalloc.Heap) error {
	fmt.Fprintf(out, "\n[TEST] Single block: requested 64 bytes\n")
	p, err := heap.Malloc(64)
	if err != nil {
		return nil
	}

	msg := []byte("test\x00")
	r1 := status(heap.Write(p, 0, msg, len(msg)))
	r2 := status(heap.Write(p, 10, msg, 4))
	r3 := status(heap.Write(p, 60, msg, 4))
	r4 := status(heap.Write(p, 63, msg, 1))
	r5 := status(heap.Write(p, 64, msg, 1))
	fmt.Fprintf(out, "[TEST] Write results: %d %d %d %d\n", r1, r2, r3, r4)
	fmt.Fprintf(out, "[TEST] Out of bounds write return value: %d\n", r5)
	return release(logger, heap, p)
}

type blockCase struct {
	size  int
	first string
	last  string
	over  string
}

var multiBlockCases = []blockCase{
	{size: 32, first: "A", last: "B", over: "C"},
	{size: 128, first: "X", last: "Y", over: "Z"},
	{size: 256, first: "M", last: "N", over: "O"},
}

func multiBlock(out io.Writer, logger *slog.Logger, heap *robustalloc.Heap) error {
	handles := make([]allocator.Handle, len(multiBlockCases))
	ok := make([]bool, len(multiBlockCases))
	for i, c := range multiBlockCases {
		h, err := heap.Malloc(c.size)
		handles[i], ok[i] = h, err == nil
	}

	for i, c := range multiBlockCases {
		if !ok[i] {
			continue
		}
		p := handles[i]
		n := i + 1
		fmt.Fprintf(out, "\n[TEST] Heap %d: requested %d bytes\n", n, c.size)
		r1 := status(heap.Write(p, 0, []byte(c.first), 1))
		r2 := status(heap.Write(p, c.size-1, []byte(c.last), 1))
		r3 := status(heap.Write(p, c.size, []byte(c.over), 1))
		fmt.Fprintf(out, "[TEST] Heap %d write results: %d %d\n", n, r1, r2)
		fmt.Fprintf(out, "[TEST] Heap %d out of bounds: %d\n", n, r3)
		if err := release(logger, heap, p); err != nil {
			return err
		}
	}
	return nil
}
