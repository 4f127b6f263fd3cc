// run_test.go tests the 'simtrun run' and 'simtrun check' commands.
package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kolkov/reconvergence/simt"
)

const diamondKernel = `.version 1.2
.kernel diamond
        @tid<2 bra taken
        nop
        bra join
taken:  add
join:   reconverge
        exit
`

func writeKernel(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kernel.s")
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// TestParseRunArgs_Defaults tests a lone kernel file.
func TestParseRunArgs_Defaults(t *testing.T) {
	config, err := parseRunArgs([]string{"kernel.s"})
	if err != nil {
		t.Fatalf("parseRunArgs() error: %v", err)
	}
	if config.kernelFile != "kernel.s" {
		t.Errorf("Expected kernel.s, got %s", config.kernelFile)
	}
	def := simt.DefaultRunOptions()
	if config.options.Engine != def.Engine || config.options.Threads != def.Threads || config.options.Warps != 1 {
		t.Errorf("Expected default options, got %+v", config.options)
	}
	if config.showTrace || config.counters {
		t.Error("Expected trace and counters off")
	}
}

// TestParseRunArgs_Flags tests every flag in both spellings.
func TestParseRunArgs_Flags(t *testing.T) {
	args := []string{
		"-engine", "tf-gen6", "-threads=8", "--warps", "3",
		"-max-steps", "500", "-max-depth=4", "-sample", "5", "-counters", "k.s",
	}
	config, err := parseRunArgs(args)
	if err != nil {
		t.Fatalf("parseRunArgs() error: %v", err)
	}
	o := config.options
	if o.Engine != simt.TFGen6 || o.Threads != 8 || o.Warps != 3 || o.MaxSteps != 500 || o.MaxStackDepth != 4 {
		t.Errorf("Unexpected options %+v", o)
	}
	if !config.showTrace || config.sampleRate != 5 || !config.counters {
		t.Errorf("Expected sampled trace with counters, got %+v", config)
	}
}

// TestParseRunArgs_Errors tests rejected command lines.
func TestParseRunArgs_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no kernel", []string{"-trace"}, "no kernel file"},
		{"two kernels", []string{"a.s", "b.s"}, "only one kernel"},
		{"missing value", []string{"k.s", "-threads"}, "requires a value"},
		{"bad number", []string{"-threads", "zero", "k.s"}, "positive integer"},
		{"negative", []string{"-warps=-2", "k.s"}, "positive integer"},
		{"bad engine", []string{"-engine", "simd", "k.s"}, "simd"},
		{"unknown flag", []string{"-fast", "1", "k.s"}, "unknown flag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRunArgs(tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("parseRunArgs(%v) error = %v, want %q", tt.args, err, tt.want)
			}
		})
	}
}

// TestRunKernel tests a full run with trace output.
func TestRunKernel(t *testing.T) {
	config, err := parseRunArgs([]string{
		"-engine", "ipdom", "-threads", "4", "-warps", "2", "-trace", "-counters", writeKernel(t, diamondKernel),
	})
	if err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	if err := runKernel(context.Background(), config, &out); err != nil {
		t.Fatalf("runKernel() error: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"kernel diamond: 2 warp(s) x 4 threads, engine ipdom",
		"warp 0: ",
		"warp 1: ",
		"1 divergences, 1 reconvergences",
		"counters [1 1 0 0]",
		"TRACE: kernel diamond (ipdom, 4 threads)",
		"reconvergence",
		"==================",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Output missing %q:\n%s", want, got)
		}
	}
}

// TestRunKernel_Sampled tests that a sampled trace still counts every event.
func TestRunKernel_Sampled(t *testing.T) {
	config, err := parseRunArgs([]string{
		"-engine", "ipdom", "-threads", "4", "-warps", "2", "-sample", "2", writeKernel(t, diamondKernel),
	})
	if err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	if err := runKernel(context.Background(), config, &out); err != nil {
		t.Fatalf("runKernel() error: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"TRACE: kernel diamond (ipdom, 4 threads, sampled 1 in 2)",
		"Summary: 6 events (3 shown)",
		"divergence: 2, reconvergence: 2, exit: 2",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Output missing %q:\n%s", want, got)
		}
	}
}

// TestRunKernel_Failure tests that a warp failure is returned after the
// summary is printed.
func TestRunKernel_Failure(t *testing.T) {
	src := ".kernel stray\nreconverge\nexit\n"
	config, err := parseRunArgs([]string{"-threads", "4", writeKernel(t, src)})
	if err != nil {
		t.Fatal(err)
	}
	var out strings.Builder
	err = runKernel(context.Background(), config, &out)
	if !errors.Is(err, simt.ErrInvalidReconvergePoint) {
		t.Fatalf("runKernel() error = %v, want ErrInvalidReconvergePoint", err)
	}
	if !strings.Contains(out.String(), "warp 0: ") {
		t.Errorf("Summary not printed:\n%s", out.String())
	}
}

// TestRunKernel_MissingFile tests a nonexistent kernel path.
func TestRunKernel_MissingFile(t *testing.T) {
	config := &runConfig{kernelFile: filepath.Join(t.TempDir(), "none.s"), options: simt.DefaultRunOptions()}
	if err := runKernel(context.Background(), config, &strings.Builder{}); err == nil {
		t.Error("Expected error for missing kernel")
	}
}

// TestCheckKernel tests the control-flow listing.
func TestCheckKernel(t *testing.T) {
	var out strings.Builder
	if err := checkKernel(writeKernel(t, diamondKernel), &out); err != nil {
		t.Fatalf("checkKernel() error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"kernel diamond (v1.2.0): 4 blocks, reducible=true", "branches:", "reconverge: pc 4"} {
		if !strings.Contains(got, want) {
			t.Errorf("Output missing %q:\n%s", want, got)
		}
	}
}

// TestCheckKernel_Irreducible tests that irreducible kernels are listed.
func TestCheckKernel_Irreducible(t *testing.T) {
	src := `.kernel irr
        @tid<2 bra b
a:      add
        @c<5 bra b
        exit
b:      add
        @c<5 bra a
        exit
`
	var out strings.Builder
	if err := checkKernel(writeKernel(t, src), &out); err != nil {
		t.Fatalf("checkKernel() error: %v", err)
	}
	if !strings.Contains(out.String(), "reducible=false") || !strings.Contains(out.String(), "unknown (irreducible)") {
		t.Errorf("Unexpected output:\n%s", out.String())
	}
}
