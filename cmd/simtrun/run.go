// run.go implements the 'simtrun run' command.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/kolkov/reconvergence/internal/simt/trace"
	"github.com/kolkov/reconvergence/simt"
)

// runConfig holds the parsed 'run' arguments.
type runConfig struct {
	kernelFile string
	options    simt.RunOptions
	showTrace  bool
	sampleRate uint64
	counters   bool
}

// runCommand implements the 'simtrun run' command.
//
// Example:
//
//	simtrun run kernel.s
//	simtrun run -engine barrier -warps 4 -trace kernel.s
func runCommand(args []string) {
	config, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := runKernel(ctx, config, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(2)
	}
}

// parseRunArgs parses run flags followed by exactly one kernel file.
//
// Flags take their value as the next argument or after '=':
//
//	simtrun run -threads 4 kernel.s
//	simtrun run -threads=4 kernel.s
func parseRunArgs(args []string) (*runConfig, error) {
	config := &runConfig{options: simt.DefaultRunOptions()}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) == 0 || arg[0] != '-' {
			if config.kernelFile != "" {
				return nil, fmt.Errorf("unexpected argument %q: only one kernel file is allowed", arg)
			}
			config.kernelFile = arg
			continue
		}

		name, value, hasValue := splitFlag(arg)
		switch name {
		case "trace":
			config.showTrace = true
			continue
		case "counters":
			config.counters = true
			continue
		}

		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("flag -%s requires a value", name)
			}
			i++
			value = args[i]
		}

		switch name {
		case "engine":
			t, err := simt.ParseEngine(value)
			if err != nil {
				return nil, err
			}
			config.options.Engine = t
		case "threads":
			n, err := positive(name, value)
			if err != nil {
				return nil, err
			}
			config.options.Threads = n
		case "warps":
			n, err := positive(name, value)
			if err != nil {
				return nil, err
			}
			config.options.Warps = n
		case "max-steps":
			n, err := positive(name, value)
			if err != nil {
				return nil, err
			}
			config.options.MaxSteps = n
		case "max-depth":
			n, err := positive(name, value)
			if err != nil {
				return nil, err
			}
			config.options.MaxStackDepth = n
		case "sample":
			n, err := positive(name, value)
			if err != nil {
				return nil, err
			}
			config.sampleRate = uint64(n)
			config.showTrace = true
		default:
			return nil, fmt.Errorf("unknown flag -%s", name)
		}
	}

	if config.kernelFile == "" {
		return nil, errors.New("no kernel file specified")
	}
	return config, nil
}

// splitFlag splits "-name=value" or "--name" into its parts.
func splitFlag(arg string) (name, value string, hasValue bool) {
	name = arg[1:]
	if len(name) > 0 && name[0] == '-' {
		name = name[1:]
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '=' {
			return name[:i], name[i+1:], true
		}
	}
	return name, "", false
}

func positive(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("flag -%s: %q is not a positive integer", name, value)
	}
	return n, nil
}

// runKernel assembles and runs the kernel, writing results to w.
//
// Warp failures are reported per warp and returned joined; the summary is
// printed either way.
func runKernel(ctx context.Context, config *runConfig, w io.Writer) error {
	prog, err := simt.AssembleFile(config.kernelFile)
	if err != nil {
		return err
	}

	var (
		rec     *trace.Recorder
		totals  *trace.Counter
		sampler *trace.Sampler
	)
	if config.showTrace {
		rec = &trace.Recorder{}
		totals = &trace.Counter{}
		sampler = trace.NewSampler(trace.SamplerConfig{
			Enabled: config.sampleRate > 1,
			Rate:    config.sampleRate,
		}, rec)
		config.options.Trace = trace.Tee(totals, sampler)
	}

	results, runErr := simt.Run(ctx, prog, config.options)
	printResults(w, prog.Name, config, results)

	if rec != nil {
		report := &trace.Report{
			Kernel:     prog.Name,
			Engine:     config.options.Engine.String(),
			Threads:    config.options.Threads,
			Events:     rec.Events(),
			Totals:     totals,
			SampleRate: sampler.EffectiveRate(),
		}
		fmt.Fprintln(w) //nolint:errcheck // Report output
		report.Format(w)
	}
	return runErr
}

//nolint:errcheck // Error handling omitted for report output formatting
func printResults(w io.Writer, kernel string, config *runConfig, results []simt.WarpResult) {
	opts := config.options
	fmt.Fprintf(w, "kernel %s: %d warp(s) x %d threads, engine %s\n",
		kernel, opts.Warps, opts.Threads, opts.Engine)
	for _, r := range results {
		s := r.Stats
		fmt.Fprintf(w, "warp %d: %d steps, %d divergences, %d reconvergences, %d barrier releases, max depth %d, %d exited\n",
			r.Warp, s.Steps, s.Divergences, s.Reconvergences, s.BarrierReleases, s.MaxDepth, s.ExitedThreads)
		if config.counters {
			fmt.Fprintf(w, "  counters %v\n", r.Counters)
		}
	}
}
