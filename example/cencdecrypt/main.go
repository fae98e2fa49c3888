package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/alchemy/rotoslog"
	"github.com/phsym/console-slog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/mem"
	"m7s.live/cenc"
	"m7s.live/cenc/pkg"
	"m7s.live/cenc/pkg/config"
)

type keyFlags []string

func (k *keyFlags) String() string {
	return strings.Join(*k, ",")
}

func (k *keyFlags) Set(s string) error {
	*k = append(*k, s)
	return nil
}

func (k *keyFlags) Get() any {
	return []string(*k)
}

func newLogger(conf config.Log) (*slog.Logger, error) {
	level := pkg.ParseLevel(conf.Level)
	handler := pkg.NewMultiLogHandler(level, console.NewHandler(os.Stderr, &console.HandlerOptions{Level: level, TimeFormat: "15:04:05.000"}))
	if conf.Path != "" {
		builder := func(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
			return console.NewHandler(w, &console.HandlerOptions{NoColor: true, Level: level, TimeFormat: "2006-01-02 15:04:05.000"})
		}
		file, err := rotoslog.NewHandler(rotoslog.LogHandlerBuilder(builder), rotoslog.LogDir(conf.Path), rotoslog.MaxFileSize(conf.Size), rotoslog.DateTimeLayout(conf.Formatter), rotoslog.MaxRotatedFiles(conf.MaxFiles))
		if err != nil {
			return nil, err
		}
		handler.Add(file)
	}
	return slog.New(handler), nil
}

func run() int {
	conf := flag.String("c", "", "config file")
	var keys keyFlags
	flag.Var(&keys, "key", "KID:KEY, TRACKID:KEY or KEY, repeatable")
	flag.String("i", "", "input file")
	flag.String("o", "", "output file")
	flag.String("tracks", "all", "tracks to decrypt, e.g. 1,3-4")
	flag.Bool("fallback", false, "use the single given key for every track")
	flag.Bool("abort", false, "fail the whole run on the first track failure")
	flag.Int("j", 0, "tracks decrypted in parallel, 0 for one per CPU")
	flag.Bool("verify", false, "decode the output again before writing it")
	flag.String("log", "", "log level")
	flag.String("metrics", "", "prometheus text file written at exit")
	flag.Parse()

	// flags given on the command line override the config file
	decrypt, logging := map[string]any{}, map[string]any{}
	modify := map[string]any{"decrypt": decrypt, "log": logging}
	flag.Visit(func(f *flag.Flag) {
		v := f.Value.(flag.Getter).Get()
		switch f.Name {
		case "key":
			decrypt["keys"] = v
		case "i":
			modify["input"] = v
		case "o":
			modify["output"] = v
		case "tracks":
			decrypt["tracks"] = v
		case "fallback":
			decrypt["fallbacksinglekey"] = v
		case "abort":
			decrypt["abortonfirsttrackfailure"] = v
		case "j":
			decrypt["concurrency"] = v
		case "verify":
			decrypt["verify"] = v
		case "log":
			logging["level"] = v
		case "metrics":
			modify["metrics"] = map[string]any{"file": v}
		}
	})
	var tool config.Tool
	c, err := config.Load(&tool, "CENC", *conf, modify)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	logger, err := newLogger(tool.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	logger.Debug("config", "values", c.GetMap())
	if tool.Input == "" || tool.Output == "" {
		logger.Error("input and output files are required")
		return 2
	}

	var specs []cenc.KeySpec
	for _, k := range tool.Decrypt.Keys {
		spec, err := cenc.ParseKeySpec(k)
		if err != nil {
			logger.Error("bad key", "err", err)
			return 2
		}
		specs = append(specs, spec)
	}
	selector, err := cenc.ParseTrackSelector(tool.Decrypt.Tracks)
	if err != nil {
		logger.Error("bad track selection", "tracks", tool.Decrypt.Tracks, "err", err)
		return 2
	}
	stats := cenc.NewStats()
	if tool.Metrics.File != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(stats)
		defer func() {
			if err := prometheus.WriteToTextfile(tool.Metrics.File, reg); err != nil {
				logger.Error("write metrics", "file", tool.Metrics.File, "err", err)
			}
		}()
	}

	// input, working copy and output are held in memory at once
	if fi, err := os.Stat(tool.Input); err == nil {
		if vm, err := mem.VirtualMemory(); err == nil && uint64(fi.Size())*3 > vm.Available {
			logger.Warn("input may not fit in memory", "size", fi.Size(), "available", vm.Available)
		}
	}
	input, err := os.ReadFile(tool.Input)
	if err != nil {
		logger.Error("read input", "err", err)
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, err := cenc.Decrypt(ctx, input, specs, cenc.Options{
		FallbackSingleKey:        tool.Decrypt.FallbackSingleKey,
		Tracks:                   selector,
		AbortOnFirstTrackFailure: tool.Decrypt.AbortOnFirstTrackFailure,
		Concurrency:              tool.Decrypt.Concurrency,
		Verify:                   tool.Decrypt.Verify,
		Logger:                   logger,
		Stats:                    stats,
	})
	if res == nil {
		logger.Error("decrypt", "input", tool.Input, "err", err)
		return 1
	}
	if werr := os.WriteFile(tool.Output, res.Output, 0o644); werr != nil {
		logger.Error("write output", "err", werr)
		return 1
	}
	if err != nil {
		// partial output, unfinished tracks left out
		logger.Warn("interrupted", "output", tool.Output, "err", err)
		return 130
	}
	if len(res.Failed()) > 0 {
		return 3
	}
	return 0
}

func main() {
	os.Exit(run())
}
