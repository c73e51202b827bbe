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

package wavegen

import (
	"fmt"

	"github.com/cloudwego/wavegen/internal/mir"
	"github.com/cloudwego/wavegen/internal/opts"
	"github.com/cloudwego/wavegen/internal/target"
)

// Option is the property setter function for opts.Options.
type Option func(*opts.Options)

// OptLevel is the code generation optimization level.
type OptLevel = opts.Level

const (
	OptNone       = opts.LevelNone
	OptLess       = opts.LevelLess
	OptDefault    = opts.LevelDefault
	OptAggressive = opts.LevelAggressive
)

// Target describes the register files, branch range and hazards of the
// target processor.
type Target = target.Desc

// DefaultTarget returns a fresh copy of the default target description.
func DefaultTarget() *Target {
	return target.GFX9()
}

// WithOptLevel sets the optimization level. OptNone selects the fast
// pipeline and the fast register allocators.
//
// The default value of this option is OptDefault.
func WithOptLevel(level OptLevel) Option {
	if level < OptNone || level > OptAggressive {
		panic(fmt.Sprintf("wavegen: invalid optimization level: %d", level))
	} else {
		return func(o *opts.Options) { o.OptLevel = level }
	}
}

// WithRegAlloc selects the allocation strategy of one register file. file
// is one of "sgpr", "wwm" or "vgpr", strategy is one of "fast", "basic" or
// "greedy". An unknown strategy aborts the compilation.
//
// By default, "greedy" is used when optimizing and "fast" otherwise.
func WithRegAlloc(file string, strategy string) Option {
	if rf, ok := mir.ParseRegFile(file); !ok {
		panic(fmt.Sprintf("wavegen: invalid register file: %q", file))
	} else {
		return func(o *opts.Options) { o.SetRegAlloc(rf, strategy) }
	}
}

// WithGenericRegAlloc sets the generic allocator override. This target
// allocates every register file separately, so any non-empty value makes
// the compilation fail with a configuration error.
func WithGenericRegAlloc(strategy string) Option {
	return func(o *opts.Options) { o.GenericRegAlloc = strategy }
}

// WithSchedStrategy selects the machine scheduler strategy, one of
// "latency", "ilp", "memory-clause" or "min-reg".
//
// The default value of this option is "latency".
func WithSchedStrategy(name string) Option {
	return func(o *opts.Options) { o.SchedStrategy = name }
}

// WithDPPCombine enables folding DPP moves into their users.
func WithDPPCombine(v bool) Option {
	return func(o *opts.Options) { o.DPPCombine = v }
}

// WithLoadStoreOpt enables merging adjacent memory accesses.
func WithLoadStoreOpt(v bool) Option {
	return func(o *opts.Options) { o.LoadStoreOpt = v }
}

// WithRewritePartialRegUses enables narrowing wide registers only accessed
// through one of their parts.
func WithRewritePartialRegUses(v bool) Option {
	return func(o *opts.Options) { o.RewritePartialRegUses = v }
}

// WithPreRAOptimizations enables splitting wide immediate moves before
// register allocation.
func WithPreRAOptimizations(v bool) Option {
	return func(o *opts.Options) { o.PreRAOptimizations = v }
}

// WithDCEInRA enables dead code elimination after dead lane detection.
func WithDCEInRA(v bool) Option {
	return func(o *opts.Options) { o.DCEInRA = v }
}

// WithOptExecMaskPreRA enables the exec mask optimizations before register
// allocation.
func WithOptExecMaskPreRA(v bool) Option {
	return func(o *opts.Options) { o.OptExecMaskPreRA = v }
}

// WithVerify runs the machine code verifier after every pass. A verifier
// failure panics.
//
// This value can also be configured with the `WAVEGEN_VERIFY` environment
// variable.
func WithVerify(v bool) Option {
	return func(o *opts.Options) { o.Verify = v }
}

// WithPrintAfterAll logs the function after every pass.
func WithPrintAfterAll(v bool) Option {
	return func(o *opts.Options) { o.PrintAfterAll = v }
}

// WithTarget sets the target description.
func WithTarget(td *Target) Option {
	if td == nil {
		panic("wavegen: nil target")
	} else {
		return func(o *opts.Options) { o.Target = td }
	}
}

// WithMaxWorkers limits the number of functions CompileModule compiles at
// the same time. "0" means one worker per logical core.
func WithMaxWorkers(n int) Option {
	if n < 0 {
		panic(fmt.Sprintf("wavegen: invalid worker count: %d", n))
	} else {
		return func(o *opts.Options) { o.MaxWorkers = n }
	}
}

// SetOptLevel sets the default optimization level from now on.
//
// This value can also be configured with the `WAVEGEN_OPT_LEVEL`
// environment variable.
//
// Returns the old opts.OptLevel value.
func SetOptLevel(level OptLevel) OptLevel {
	level, opts.OptLevel = opts.OptLevel, level
	return level
}

// SetSchedStrategy sets the default scheduler strategy from now on.
//
// This value can also be configured with the `WAVEGEN_SCHED_STRATEGY`
// environment variable.
//
// Returns the old opts.SchedStrategy value.
func SetSchedStrategy(name string) string {
	name, opts.SchedStrategy = opts.SchedStrategy, name
	return name
}
