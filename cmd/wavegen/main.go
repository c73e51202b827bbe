/*
 * Copyright 2022 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cloudwego/wavegen"
	"github.com/cloudwego/wavegen/debug"
	"github.com/cloudwego/wavegen/internal/opts"
	"github.com/containerd/log"
	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type cliOptions struct {
	configFile string
	output     string
	optLevel   string
	logLevel   string
	stats      bool
	options    opts.Options
	flags      *pflag.FlagSet
}

func newCommand() *cobra.Command {
	o := cliOptions{options: opts.GetDefaultOptions()}
	cmd := &cobra.Command{
		Use:           "wavegen [OPTIONS] FILE...",
		Short:         "Run the GCN code generation pipeline over machine IR files.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o.flags = cmd.Flags()
			return run(cmd.Context(), cmd.OutOrStdout(), &o, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.configFile, "config", "c", "", "TOML configuration file")
	flags.StringVarP(&o.output, "output", "o", "-", "Output file")
	flags.StringVarP(&o.optLevel, "opt-level", "O", o.options.OptLevel.String(), "Optimization level (0-3, none, less, default, aggressive)")
	flags.StringVar(&o.logLevel, "log-level", "warning", "Log level")
	flags.BoolVar(&o.stats, "stats", false, "Print code generation statistics")
	installPipelineFlags(&o.options, flags)
	return cmd
}

func installPipelineFlags(o *opts.Options, flags *pflag.FlagSet) {
	flags.StringVar(&o.SGPRRegAlloc, "sgpr-regalloc", o.SGPRRegAlloc, "Scalar register allocator (fast, basic, greedy)")
	flags.StringVar(&o.WWMRegAlloc, "wwm-regalloc", o.WWMRegAlloc, "Whole-wave register allocator (fast, basic, greedy)")
	flags.StringVar(&o.VGPRRegAlloc, "vgpr-regalloc", o.VGPRRegAlloc, "Vector register allocator (fast, basic, greedy)")
	flags.StringVar(&o.GenericRegAlloc, "regalloc", "", "Generic register allocator (not supported)")
	flags.StringVar(&o.SchedStrategy, "sched-strategy", o.SchedStrategy, "Machine scheduler strategy")
	flags.BoolVar(&o.DPPCombine, "dpp-combine", o.DPPCombine, "Fold DPP moves into their users")
	flags.BoolVar(&o.LoadStoreOpt, "load-store-opt", o.LoadStoreOpt, "Merge adjacent memory accesses")
	flags.BoolVar(&o.RewritePartialRegUses, "rewrite-partial-reg-uses", o.RewritePartialRegUses, "Narrow partially used registers")
	flags.BoolVar(&o.PreRAOptimizations, "pre-ra-optimizations", o.PreRAOptimizations, "Split wide immediate moves before allocation")
	flags.BoolVar(&o.DCEInRA, "dce-in-ra", o.DCEInRA, "Remove dead code after dead lane detection")
	flags.BoolVar(&o.OptExecMaskPreRA, "opt-exec-mask-pre-ra", o.OptExecMaskPreRA, "Optimize exec masks before allocation")
	flags.BoolVar(&o.Verify, "verify-machineinstrs", o.Verify, "Verify the machine code after every pass")
	flags.BoolVar(&o.PrintAfterAll, "print-after-all", false, "Print the machine code after every pass")
	flags.IntVarP(&o.MaxWorkers, "jobs", "j", o.MaxWorkers, "Number of functions compiled concurrently (0 for one per core)")
}

// resolve layers the configuration: defaults, then the configuration file,
// then the flags given on the command line.
func resolve(o *cliOptions) (opts.Options, error) {
	ret := opts.GetDefaultOptions()
	if o.configFile != "" {
		if err := opts.LoadFile(o.configFile, &ret); err != nil {
			return ret, err
		}
	}

	/* optimization level */
	if o.flags.Changed("opt-level") {
		lv, ok := opts.ParseLevel(o.optLevel)
		if !ok {
			return ret, errors.Errorf("invalid optimization level %q", o.optLevel)
		}
		ret.OptLevel = lv
	}

	/* every other explicitly set flag */
	fs := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
	installPipelineFlags(&ret, fs)
	var err error
	o.flags.Visit(func(f *pflag.Flag) {
		if err == nil && fs.Lookup(f.Name) != nil {
			err = fs.Set(f.Name, f.Value.String())
		}
	})
	return ret, err
}

func run(ctx context.Context, out io.Writer, o *cliOptions, files []string) error {
	lvl, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	/* the effective options */
	cfg, err := resolve(o)
	if err != nil {
		return err
	}

	/* parse every input */
	var fns []*wavegen.Function
	for _, name := range files {
		src, err := readInput(name)
		if err != nil {
			return err
		}
		buf, err := wavegen.ParseFunctions(src)
		if err != nil {
			return errors.Wrapf(err, "parse %s", name)
		}
		fns = append(fns, buf...)
	}

	/* compile the module */
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("module", strings.Join(files, ",")))
	if err := wavegen.CompileModule(ctx, fns, func(p *opts.Options) { *p = cfg }); err != nil {
		return err
	}

	/* write the result */
	if err := writeOutput(o.output, out, fns); err != nil {
		return err
	}
	if o.stats {
		printStats(out, fns)
	}
	return nil
}

func readInput(name string) (string, error) {
	var err error
	var buf []byte
	if name == "-" {
		buf, err = io.ReadAll(os.Stdin)
	} else {
		buf, err = os.ReadFile(name)
	}
	return string(buf), errors.Wrapf(err, "read %s", name)
}

func writeOutput(name string, out io.Writer, fns []*wavegen.Function) error {
	var sb strings.Builder
	for i, fn := range fns {
		if i != 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(wavegen.Print(fn))
	}
	if name == "-" {
		_, err := io.WriteString(out, sb.String())
		return err
	}
	return errors.Wrapf(os.WriteFile(name, []byte(sb.String()), 0o644), "write %s", name)
}

func printStats(out io.Writer, fns []*wavegen.Function) {
	for _, fn := range fns {
		fmt.Fprintf(out, "; %s: code %s, frame %s, %d instructions\n",
			fn.Name,
			units.BytesSize(float64(codeSize(fn))),
			units.BytesSize(float64(fn.Frame.Size)),
			fn.NumInstrs(),
		)
	}

	st := debug.GetStats()
	fmt.Fprintf(out, "; functions: %d ok, %d failed\n", st.Functions.OK, st.Functions.Failed)
	for _, name := range []string{"sgpr", "wwm", "vgpr"} {
		fmt.Fprintf(out, "; %s: %d spills, %d reloads\n", name, st.Spills[name].Spills, st.Spills[name].Reloads)
	}
	fmt.Fprintf(out, "; slots shared: %d, branches relaxed: %d, hazard nops: %d\n", st.Emit.SlotsShared, st.Emit.BranchesRelaxed, st.Emit.HazardNops)
}

func codeSize(fn *wavegen.Function) int {
	if fn.Layout != nil {
		return fn.Layout.Size
	}
	return fn.Size()
}

func main() {
	logrus.SetOutput(os.Stderr)
	cmd := newCommand()
	cmd.SetOut(os.Stdout)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
