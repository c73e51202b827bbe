/*
 * Copyright 2022 ByteDance Inc.
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

package pipeline

import (
    `context`
    `testing`

    `github.com/containerd/errdefs`
    `github.com/stretchr/testify/require`

    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/opts`
    `github.com/cloudwego/wavegen/internal/utils`
)

type _Trace struct {
    names []string
}

func (self *_Trace) pass(name string) Pass {
    return PassFunc(func(_ *mir.Function) { self.names = append(self.names, name) })
}

func TestBuilder_Anchors(t *testing.T) {
    tr := new(_Trace)
    b := NewBuilder()
    b.Add("a", tr.pass("a"))
    b.Add("b", tr.pass("b"))
    b.InsertAfter("a", "x", tr.pass("x"), true)
    b.InsertAfter("a", "y", tr.pass("y"), true)
    b.InsertAfter("x", "z", tr.pass("z"), true)

    /* insertions keep the declaration order, and may chain */
    p, err := b.Build()
    require.NoError(t, err)
    require.Equal(t, []string { "a", "x", "z", "y", "b" }, p.Names())

    /* passes run in the resolved order */
    require.NoError(t, p.Run(context.Background(), mir.NewFunction("f")))
    require.Equal(t, []string { "a", "x", "z", "y", "b" }, tr.names)

    /* building twice gives the same sequence */
    q, err := b.Build()
    require.NoError(t, err)
    require.Equal(t, p.Names(), q.Names())
}

func TestBuilder_DisabledAnchor(t *testing.T) {
    tr := new(_Trace)
    b := NewBuilder()
    b.AddIf("a", tr.pass("a"), false)
    b.Add("b", tr.pass("b"))
    b.InsertAfter("a", "x", tr.pass("x"), true)

    /* the disabled pass holds its position */
    p, err := b.Build()
    require.NoError(t, err)
    require.Equal(t, []string { "x", "b" }, p.Names())
    require.Len(t, p.Stages(), 3)
    require.Equal(t, "(a)", p.Stages()[0].String())

    /* and does not run */
    require.NoError(t, p.Run(context.Background(), mir.NewFunction("f")))
    require.Equal(t, []string { "x", "b" }, tr.names)
}

func TestBuilder_Errors(t *testing.T) {
    nop := PassFunc(func(_ *mir.Function) {})

    /* unresolved anchor */
    _, err := NewBuilder().Add("a", nop).InsertAfter("nope", "x", nop, true).Build()
    require.Error(t, err)
    require.Contains(t, err.Error(), "anchor nope")

    /* duplicated names */
    _, err = NewBuilder().Add("a", nop).Add("a", nop).Build()
    require.Error(t, err)
    require.Contains(t, err.Error(), "duplicated")

    /* checks on unknown passes */
    _, err = NewBuilder().Add("a", nop).Check("b", func(_ *mir.Function) error { return nil }).Build()
    require.Error(t, err)
}

func TestPipeline_Fatal(t *testing.T) {
    tr := new(_Trace)
    b := NewBuilder()
    b.Add("a", tr.pass("a"))
    b.Add("fatal", PassFunc(func(_ *mir.Function) { utils.Fatal(utils.EGenericRegAlloc()) }))
    b.Add("b", tr.pass("b"))

    /* the function is aborted, the error is returned */
    p, err := b.Build()
    require.NoError(t, err)
    err = p.Run(context.Background(), mir.NewFunction("f"))
    require.Error(t, err)
    require.True(t, errdefs.IsInvalidArgument(err))
    require.Contains(t, err.Error(), "pass fatal")
    require.Equal(t, []string { "a" }, tr.names)
}

func TestPipeline_Panics(t *testing.T) {
    p, err := NewBuilder().Add("boom", PassFunc(func(_ *mir.Function) { panic("boom") })).Build()
    require.NoError(t, err)
    require.PanicsWithValue(t, "boom", func() { _ = p.Run(context.Background(), mir.NewFunction("f")) })
}

func TestPipeline_Checks(t *testing.T) {
    b := NewBuilder()
    b.Add("a", PassFunc(func(_ *mir.Function) {}))
    b.Check("a", func(_ *mir.Function) error { return utils.EConfig("x", "broken") })

    /* checks only run when verifying */
    p, err := b.Build()
    require.NoError(t, err)
    require.NoError(t, p.Run(context.Background(), mir.NewFunction("f")))
    p.Verify = true
    require.Panics(t, func() { _ = p.Run(context.Background(), mir.NewFunction("f")) })
}

func defaultOptions(level opts.Level) *opts.Options {
    o := opts.GetDefaultOptions()
    o.OptLevel = level
    o.SGPRRegAlloc = ""
    o.WWMRegAlloc = ""
    o.VGPRRegAlloc = ""
    o.SchedStrategy = "latency"
    return &o
}

func TestNewGCN_Optimized(t *testing.T) {
    p, err := NewGCN(defaultOptions(opts.LevelDefault))
    require.NoError(t, err)
    require.Equal(t, []string {
        "fix-sgpr-copies",
        "peephole-opt",
        "fold-operands",
        "dpp-combine",
        "load-store-opt",
        "fold-operands-late",
        "dead-mi-elim",
        "shrink-instructions",
        "detect-dead-lanes",
        "dead-mi-elim-ra",
        "live-variables",
        "phi-elimination",
        "lower-control-flow",
        "two-address",
        "rename-independent-subregs",
        "rewrite-partial-reg-uses",
        "register-coalescer",
        "machine-scheduler",
        "pre-ra-optimizations",
        "whole-quad-mode",
        "optimize-exec-masking-pre-ra",
        "form-memory-clauses",
        "long-branch-reg",
        "sgpr-regalloc",
        "virt-reg-rewriter-sgpr",
        "stack-slot-coloring",
        "lower-sgpr-spills",
        "pre-allocate-wwm-regs",
        "wwm-regalloc",
        "lower-wwm-copies",
        "virt-reg-rewriter-wwm",
        "reserve-wwm-regs",
        "vgpr-regalloc",
        "virt-reg-rewriter-vgpr",
        "mark-last-scratch-load",
        "optimize-exec-masking",
        "prologue-epilogue",
        "expand-post-ra-pseudos",
        "post-ra-scheduler",
        "shrink-instructions-post",
        "post-ra-bundler",
        "memory-legalizer",
        "insert-waitcnts",
        "insert-hard-clauses",
        "late-branch-lowering",
        "pre-emit-peephole",
        "post-ra-hazard-recognizer",
        "branch-relaxation",
        "layout",
    }, p.Names())
}

func TestNewGCN_Toggles(t *testing.T) {
    o := defaultOptions(opts.LevelLess)
    o.DCEInRA = false
    o.DPPCombine = false

    /* toggled passes keep their slot in the sequence */
    p, err := NewGCN(o)
    require.NoError(t, err)
    require.NotContains(t, p.Names(), "dead-mi-elim-ra")
    require.NotContains(t, p.Names(), "dpp-combine")
    require.NotContains(t, p.Names(), "form-memory-clauses")
    require.Contains(t, p.Names(), "pre-ra-optimizations")

    /* and still anchor the passes after them */
    found := false
    for _, st := range p.Stages() {
        if st.Name == "form-memory-clauses" {
            found = true
            require.False(t, st.Enabled)
        }
    }
    require.True(t, found)
}

func TestNewGCN_None(t *testing.T) {
    p, err := NewGCN(defaultOptions(opts.LevelNone))
    require.NoError(t, err)
    require.Equal(t, []string {
        "fix-sgpr-copies",
        "phi-elimination",
        "lower-control-flow",
        "two-address",
        "whole-quad-mode",
        "long-branch-reg",
        "sgpr-regalloc",
        "virt-reg-rewriter-sgpr",
        "stack-slot-coloring",
        "lower-sgpr-spills",
        "pre-allocate-wwm-regs",
        "wwm-regalloc",
        "lower-wwm-copies",
        "virt-reg-rewriter-wwm",
        "reserve-wwm-regs",
        "vgpr-regalloc",
        "virt-reg-rewriter-vgpr",
        "prologue-epilogue",
        "expand-post-ra-pseudos",
        "post-ra-bundler",
        "memory-legalizer",
        "insert-waitcnts",
        "late-branch-lowering",
        "post-ra-hazard-recognizer",
        "branch-relaxation",
        "layout",
    }, p.Names())
}

func TestNewGCN_GenericRegAlloc(t *testing.T) {
    o := defaultOptions(opts.LevelDefault)
    o.GenericRegAlloc = "greedy"

    /* the override is rejected when the first allocator runs */
    p, err := NewGCN(o)
    require.NoError(t, err)
    fn, err := mir.ParseFunction(`func @f {
bb.0:
  SI_RETURN
}
`)
    require.NoError(t, err)
    err = p.Run(context.Background(), fn)
    require.Error(t, err)
    require.True(t, errdefs.IsInvalidArgument(err))
    require.Contains(t, err.Error(), "-regalloc not supported with amdgcn. Use -sgpr-regalloc, -wwm-regalloc, and -vgpr-regalloc")
    require.Contains(t, err.Error(), "pass sgpr-regalloc")
}

func TestNewGCN_Compile(t *testing.T) {
    for _, level := range []opts.Level { opts.LevelNone, opts.LevelDefault } {
        t.Run(level.String(), func(t *testing.T) {
            o := defaultOptions(level)
            o.Verify = true

            /* a small kernel */
            fn, err := mir.ParseFunction(`func @k kernel {
  %0 : sreg_32
  %1 : sreg_32
bb.0:
  %0 = S_MOV_B32 1
  %1 = S_ADD_U32 %0, 2, implicit-def dead $scc
  $m0 = COPY %1
  SI_RETURN
}
`)
            require.NoError(t, err)

            /* compile it */
            p, err := NewGCN(o)
            require.NoError(t, err)
            require.NoError(t, p.Run(context.Background(), fn))
            require.Empty(t, mir.RemainingVRegs(fn, mir.FileScalar))
            require.NotNil(t, fn.Layout)

            /* kernels end the program */
            bb := fn.Blocks[len(fn.Blocks) - 1]
            require.Equal(t, mir.S_ENDPGM, bb.Ins[len(bb.Ins) - 1].Op)
        })
    }
}

func TestNewGCN_RegionMarkerChecks(t *testing.T) {
    p, err := NewGCN(defaultOptions(opts.LevelDefault))
    require.NoError(t, err)
    require.Len(t, p.checks["lower-control-flow"], 2)
    for _, name := range []string { "machine-scheduler", "virt-reg-rewriter-sgpr", "virt-reg-rewriter-wwm", "virt-reg-rewriter-vgpr", "post-ra-scheduler" } {
        require.Len(t, p.checks[name], 1, name)
    }

    /* the unoptimized pipeline has no schedulers to check */
    p, err = NewGCN(defaultOptions(opts.LevelNone))
    require.NoError(t, err)
    require.Len(t, p.checks["virt-reg-rewriter-vgpr"], 1)
    require.NotContains(t, p.checks, "post-ra-scheduler")
}
