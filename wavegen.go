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
	"context"
	"runtime"
	"sync"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/cloudwego/wavegen/internal/metrics"
	"github.com/cloudwego/wavegen/internal/mir"
	"github.com/cloudwego/wavegen/internal/opts"
	"github.com/cloudwego/wavegen/internal/pipeline"
	"github.com/containerd/log"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

// Function is a machine function in the GCN machine IR.
type Function = mir.Function

// ParseFunctions parses every function of a textual machine IR module.
func ParseFunctions(src string) ([]*Function, error) {
	return mir.Parse(src)
}

// Print renders a function in the textual machine IR.
func Print(fn *Function) string {
	return mir.Print(fn)
}

func buildOptions(options []Option) opts.Options {
	o := opts.GetDefaultOptions()
	for _, fn := range options {
		fn(&o)
	}
	return o
}

func newPipeline(o *opts.Options) (*pipeline.Pipeline, error) {
	if err := o.Target.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid target")
	}
	return pipeline.NewGCN(o)
}

// Compile runs the code generation pipeline over fn, in place.
func Compile(fn *Function, options ...Option) error {
	return CompileContext(context.Background(), fn, options...)
}

// CompileContext is Compile with a context carrying the logger.
func CompileContext(ctx context.Context, fn *Function, options ...Option) error {
	o := buildOptions(options)
	p, err := newPipeline(&o)
	if err != nil {
		return err
	}
	return run(ctx, p, fn)
}

func run(ctx context.Context, p *pipeline.Pipeline, fn *Function) error {
	if err := p.Run(ctx, fn); err != nil {
		metrics.Functions.WithLabelValues("failed").Inc()
		return err
	} else {
		metrics.Functions.WithLabelValues("ok").Inc()
		return nil
	}
}

func workers(o *opts.Options, n int) int {
	ret := o.MaxWorkers
	if ret == 0 {
		ret = cpuid.CPU.LogicalCores
	}
	if ret <= 0 {
		ret = runtime.NumCPU()
	}
	if ret > n {
		ret = n
	}
	return ret
}

// CompileModule compiles independent functions concurrently. Every function
// is compiled even if some of them fail; the error of the first failing
// function in fns is returned.
func CompileModule(ctx context.Context, fns []*Function, options ...Option) error {
	o := buildOptions(options)
	p, err := newPipeline(&o)
	if err != nil {
		return err
	}

	/* nothing to compile */
	if len(fns) == 0 {
		return nil
	}

	/* one worker per logical core unless configured otherwise */
	wg := sync.WaitGroup{}
	nw := workers(&o, len(fns))
	errs := make([]error, len(fns))
	exc := make([]interface{}, len(fns))
	pool := gopool.NewPool("wavegen", int32(nw), gopool.NewConfig())

	/* compile every function */
	log.G(ctx).WithField("workers", nw).Debugf("compiling %d functions", len(fns))
	for i, fn := range fns {
		i, fn := i, fn
		wg.Add(1)
		pool.CtxGo(ctx, func() {
			defer wg.Done()
			defer func() { exc[i] = recover() }()
			errs[i] = run(ctx, p, fn)
		})
	}

	/* wait for all the functions */
	wg.Wait()
	nf := 0
	first := -1

	/* invariant violations are not errors */
	for i, v := range exc {
		if v != nil {
			panic(v)
		} else if errs[i] != nil && first < 0 {
			nf, first = nf+1, i
		} else if errs[i] != nil {
			nf++
		}
	}

	/* report the failures */
	if nf == 0 {
		return nil
	} else {
		return errors.Wrapf(errs[first], "%d of %d functions failed", nf, len(fns))
	}
}
