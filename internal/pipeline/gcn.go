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
    `github.com/cloudwego/wavegen/internal/cflow`
    `github.com/cloudwego/wavegen/internal/codegen`
    `github.com/cloudwego/wavegen/internal/emit`
    `github.com/cloudwego/wavegen/internal/opt`
    `github.com/cloudwego/wavegen/internal/opts`
    `github.com/cloudwego/wavegen/internal/regalloc`
    `github.com/cloudwego/wavegen/internal/sched`
)

// NewGCN builds the GCN code generation pipeline for the given options.
func NewGCN(o *opts.Options) (*Pipeline, error) {
    var b *Builder
    if o.Optimized() {
        b = optimized(o)
    } else {
        b = unoptimized(o)
    }

    /* exec masks must be balanced once lowered */
    b.Check("lower-control-flow", cflow.CheckExecRegions)
    for _, name := range markerChecks(o) {
        b.Check(name, cflow.CheckRegionMarkers)
    }

    /* resolve the anchors */
    p, err := b.Build()
    if err != nil {
        return nil, err
    }

    /* debugging knobs */
    p.Verify = o.Verify
    p.PrintAfterAll = o.PrintAfterAll
    return p, nil
}

// markerChecks lists the passes that may move instructions around the region
// markers once the masks can no longer be simulated.
func markerChecks(o *opts.Options) []string {
    ret := []string {
        "lower-control-flow",
        "virt-reg-rewriter-sgpr",
        "virt-reg-rewriter-wwm",
        "virt-reg-rewriter-vgpr",
    }
    if o.Optimized() {
        ret = append(ret, "machine-scheduler", "post-ra-scheduler")
    }
    return ret
}

func optimized(o *opts.Options) *Builder {
    b := NewBuilder()
    b.Add("fix-sgpr-copies", opt.FixSGPRCopies{})
    b.Add("peephole-opt", opt.PeepholeOpt{})
    b.Add("fold-operands", opt.FoldOperands{})
    b.AddIf("dpp-combine", opt.DPPCombine{}, o.DPPCombine)
    b.AddIf("load-store-opt", opt.LoadStoreOpt{}, o.LoadStoreOpt)
    b.Add("fold-operands-late", opt.FoldOperands{})
    b.Add("dead-mi-elim", opt.DeadMachineInstrElim{})
    b.Add("shrink-instructions", opt.ShrinkInstructions{})
    b.Add("detect-dead-lanes", opt.DetectDeadLanes{})
    b.Add("live-variables", codegen.LiveVariables{})
    b.Add("phi-elimination", codegen.PHIElimination{})
    b.Add("two-address", codegen.TwoAddress{})
    b.Add("rename-independent-subregs", codegen.RenameIndependentSubregs{})
    b.Add("register-coalescer", codegen.RegisterCoalescer{})
    b.Add("machine-scheduler", sched.MachineScheduler { Strategy: o.SchedStrategy, Target: o.Target })

    /* target passes anchored on the generic ones */
    b.InsertAfter("detect-dead-lanes", "dead-mi-elim-ra", opt.DeadMachineInstrElim{}, o.DCEInRA)
    b.InsertAfter("phi-elimination", "lower-control-flow", cflow.LowerControlFlow{}, true)
    b.InsertAfter("rename-independent-subregs", "rewrite-partial-reg-uses", opt.RewritePartialRegUses{}, o.RewritePartialRegUses)
    b.InsertAfter("machine-scheduler", "pre-ra-optimizations", opt.PreRAOptimizations{}, o.PreRAOptimizations)
    b.InsertAfter("machine-scheduler", "whole-quad-mode", cflow.WholeQuadMode{}, true)
    b.InsertAfter("machine-scheduler", "optimize-exec-masking-pre-ra", cflow.OptimizeExecMaskingPreRA{}, o.OptExecMaskPreRA)
    b.InsertAfter("machine-scheduler", "form-memory-clauses", sched.FormMemoryClauses{}, o.OptLevel > opts.LevelLess)

    /* register allocation */
    allocation(b, o, true)

    /* post allocation */
    b.Add("optimize-exec-masking", cflow.OptimizeExecMasking{})
    b.Add("prologue-epilogue", codegen.PrologEpilogInserter { Target: o.Target })
    b.Add("expand-post-ra-pseudos", codegen.ExpandPostRAPseudos{})
    b.Add("post-ra-scheduler", sched.PostRAScheduler { Strategy: o.SchedStrategy, Target: o.Target })
    b.Add("shrink-instructions-post", opt.ShrinkInstructions{})
    b.Add("post-ra-bundler", emit.PostRABundler{})
    b.Add("memory-legalizer", sched.MemoryLegalizer{})
    b.Add("insert-waitcnts", sched.InsertWaitcnts{})
    b.Add("insert-hard-clauses", emit.InsertHardClauses{})
    b.Add("late-branch-lowering", emit.LateBranchLowering{})
    b.Add("pre-emit-peephole", emit.PreEmitPeephole{})
    b.Add("post-ra-hazard-recognizer", sched.HazardRecognizer { Target: o.Target })
    b.Add("branch-relaxation", emit.BranchRelaxation { Target: o.Target })
    b.Add("layout", emit.Layout{})
    return b
}

func unoptimized(o *opts.Options) *Builder {
    b := NewBuilder()
    b.Add("fix-sgpr-copies", opt.FixSGPRCopies{})
    b.Add("phi-elimination", codegen.PHIElimination{})
    b.Add("two-address", codegen.TwoAddress{})

    /* exec lowering must see the tied operands before two-address */
    b.InsertAfter("phi-elimination", "lower-control-flow", cflow.LowerControlFlow{}, true)
    b.InsertAfter("two-address", "whole-quad-mode", cflow.WholeQuadMode{}, true)

    /* register allocation */
    allocation(b, o, false)

    /* post allocation */
    b.Add("prologue-epilogue", codegen.PrologEpilogInserter { Target: o.Target })
    b.Add("expand-post-ra-pseudos", codegen.ExpandPostRAPseudos{})
    b.Add("post-ra-bundler", emit.PostRABundler{})
    b.Add("memory-legalizer", sched.MemoryLegalizer{})
    b.Add("insert-waitcnts", sched.InsertWaitcnts{})
    b.Add("late-branch-lowering", emit.LateBranchLowering{})
    b.Add("post-ra-hazard-recognizer", sched.HazardRecognizer { Target: o.Target })
    b.Add("branch-relaxation", emit.BranchRelaxation { Target: o.Target })
    b.Add("layout", emit.Layout{})
    return b
}

func allocator(o *opts.Options, file regalloc.RegisterFile) regalloc.Pass {
    return regalloc.Pass {
        File     : file,
        Strategy : o.RegAllocFor(file.File()),
        Generic  : o.GenericRegAlloc,
        Target   : o.Target,
    }
}

// allocation adds the register allocation sequence: scalar registers first,
// then the whole-wave registers, then the vector registers.
func allocation(b *Builder, o *opts.Options, optimized bool) {
    b.Add("long-branch-reg", regalloc.PreRALongBranchReg { Target: o.Target })
    b.Add("sgpr-regalloc", allocator(o, regalloc.Scalar))
    b.Add("virt-reg-rewriter-sgpr", regalloc.VirtRegRewriter { File: regalloc.Scalar })
    b.Add("stack-slot-coloring", regalloc.StackSlotColoring{})
    b.Add("lower-sgpr-spills", regalloc.LowerSGPRSpills { Target: o.Target })
    b.Add("pre-allocate-wwm-regs", regalloc.PreAllocateWWMRegs{})
    b.Add("wwm-regalloc", allocator(o, regalloc.WholeWave))
    b.Add("lower-wwm-copies", regalloc.LowerWWMCopies{})
    b.Add("virt-reg-rewriter-wwm", regalloc.VirtRegRewriter { File: regalloc.WholeWave })
    b.Add("reserve-wwm-regs", regalloc.ReserveWWMRegs{})
    b.Add("vgpr-regalloc", allocator(o, regalloc.Vector))
    b.Add("virt-reg-rewriter-vgpr", regalloc.VirtRegRewriter { File: regalloc.Vector })
    b.AddIf("mark-last-scratch-load", regalloc.MarkLastScratchLoad{}, optimized)
}
