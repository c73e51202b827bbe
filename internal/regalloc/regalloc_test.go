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

package regalloc

import (
    `sync`
    `testing`

    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/opts`
    `github.com/cloudwego/wavegen/internal/target`
    `github.com/cloudwego/wavegen/internal/utils`
    `github.com/containerd/errdefs`
    `github.com/stretchr/testify/require`
)

func parse(t *testing.T, src string) *mir.Function {
    fn, err := mir.ParseFunction(src)
    require.NoError(t, err)
    return fn
}

func body(bb *mir.Block) []string {
    ret := make([]string, 0, len(bb.Ins))
    for _, ins := range bb.Ins {
        ret = append(ret, mir.PrintInstr(ins))
    }
    return ret
}

func fatalOf(fn func()) (err error) {
    defer func() {
        if fe, ok := recover().(*utils.FatalError); ok {
            err = fe.Err
        }
    }()
    fn()
    return nil
}

func allocate(fn *mir.Function, desc *target.Desc, file RegisterFile, strategy string) {
    Pass { File: file, Strategy: strategy, Target: desc }.Apply(fn)
    VirtRegRewriter { File: file }.Apply(fn)
}

var _Strategies = []string {
    opts.StrategyFast,
    opts.StrategyBasic,
    opts.StrategyGreedy,
}

const _ScalarSource = `func @f {
  %0 : sreg_32
  %1 : sreg_32
bb.0:
  %0 = S_MOV_B32 1
  %1 = S_ADD_U32 %0, 2, implicit-def dead $scc
  $m0 = COPY %1
  SI_RETURN
}
`

func TestAllocate_ZeroSGPRs(t *testing.T) {
    for _, name := range _Strategies {
        t.Run(name, func(t *testing.T) {
            desc := target.GFX9()
            desc.SGPRs = 0
            fn := parse(t, _ScalarSource)

            /* everything goes to memory */
            allocate(fn, desc, Scalar, name)
            require.Empty(t, mir.RemainingVRegs(fn, mir.FileScalar))
            require.Len(t, fn.Frame.Slots, 2)
            require.Equal(t, []string {
                "$s0 = S_MOV_B32 1",
                "SI_SPILL_S_SAVE killed $s0, %stack.0",
                "$s1 = SI_SPILL_S_RESTORE %stack.0",
                "$s0 = S_ADD_U32 killed $s1, 2, implicit-def dead $scc",
                "SI_SPILL_S_SAVE killed $s0, %stack.1",
                "$s0 = SI_SPILL_S_RESTORE %stack.1",
                "$m0 = COPY killed $s0",
                "SI_RETURN",
            }, body(fn.Entry()))

            /* the two slots share an offset */
            StackSlotColoring{}.Apply(fn)
            require.Equal(t, 0, fn.Frame.Slots[0].Offset)
            require.Equal(t, 0, fn.Frame.Slots[1].Offset)
            require.True(t, fn.Frame.Slots[1].Colored)
            require.Equal(t, 4, fn.Frame.Size)

            /* lower to scratch accesses */
            LowerSGPRSpills { Target: desc }.Apply(fn)
            require.Equal(t, []string {
                "$s0 = S_MOV_B32 1",
                "S_SCRATCH_STORE_DWORD $s0, $s8, 0",
                "$s1 = S_SCRATCH_LOAD_DWORD $s8, 0",
                "$s0 = S_ADD_U32 killed $s1, 2, implicit-def dead $scc",
                "S_SCRATCH_STORE_DWORD $s0, $s8, 0",
                "$s0 = S_SCRATCH_LOAD_DWORD $s8, 0",
                "$m0 = COPY killed $s0",
                "SI_RETURN",
            }, body(fn.Entry()))
            require.NoError(t, mir.Verify(fn))
        })
    }
}

func TestAllocate_ZeroSGPRsAcrossBlocks(t *testing.T) {
    for _, name := range _Strategies {
        t.Run(name, func(t *testing.T) {
            desc := target.GFX9()
            desc.SGPRs = 0
            fn := parse(t, `func @g {
  %0 : sreg_32
  %1 : sreg_32
bb.0:
  %0 = S_MOV_B32 1
  S_CMP_EQ_U32 $m0, 0, implicit-def $scc
  S_CBRANCH_SCC1 %bb.2, implicit $scc
bb.1:
  %1 = S_ADD_U32 %0, 1, implicit-def dead $scc
  $m0 = COPY %1
bb.2:
  $m0 = COPY %0
  SI_RETURN
}
`)
            allocate(fn, desc, Scalar, name)
            require.Empty(t, mir.RemainingVRegs(fn, mir.FileScalar))
            require.NoError(t, mir.Verify(fn))
            require.Equal(t, mir.SI_SPILL_S_RESTORE, fn.Blocks[2].Ins[0].Op)
        })
    }
}

func TestAllocate_FixedRegisters(t *testing.T) {
    src := `func @v {
  %0 : vgpr_32
  %1 : vgpr_32
  %2 : vreg_64
  %3 : vgpr_32
bb.0:
  %0 = V_MOV_B32_e32 1
  %1 = V_MOV_B32_e32 2
  %2 = GLOBAL_LOAD_DWORDX2 $v[0:1], 0
  %3 = V_ADD_U32_e32 %0, %1
  GLOBAL_STORE_DWORD $v[0:1], %3, 0
  GLOBAL_STORE_DWORDX2 $v[0:1], %2, 8
  SI_RETURN
}
`
    for _, name := range _Strategies {
        t.Run(name, func(t *testing.T) {
            fn := parse(t, src)
            ivs := fn.Intervals()
            regs := []mir.Reg { mir.Virt(0), mir.Virt(1), mir.Virt(2), mir.Virt(3) }
            Pass { File: Vector, Strategy: name, Target: target.GFX9() }.Apply(fn)

            /* nothing spilled, the fixed registers are avoided */
            vrm := fn.RegMap()
            fixed := mir.Phys(mir.FileVector, 0, 2)
            require.Empty(t, fn.Frame.Slots)
            for _, r := range regs {
                require.True(t, vrm.HasPhys(r))
                require.False(t, vrm.Phys(r).Overlaps(fixed), "%s in %s", r, vrm.Phys(r))
            }

            /* interfering registers never share a register */
            for _, a := range regs {
                for _, b := range regs {
                    if a != b && ivs.Get(a).Overlaps(ivs.Get(b)) {
                        require.False(t, vrm.Phys(a).Overlaps(vrm.Phys(b)), "%s and %s", a, b)
                    }
                }
            }

            /* rewrite */
            VirtRegRewriter { File: Vector }.Apply(fn)
            require.Empty(t, mir.RemainingVRegs(fn, mir.FileVector))
            require.NoError(t, mir.Verify(fn))
        })
    }
}

func TestAllocate_Pressure(t *testing.T) {
    src := `func @e {
  %0 : vgpr_32
  %1 : vgpr_32
  %2 : vgpr_32
bb.0:
  %0 = V_MOV_B32_e32 1
  %1 = V_MOV_B32_e32 2
  %2 = V_MOV_B32_e32 3
  %0 = V_ADD_U32_e32 %0, %1
  %0 = V_ADD_U32_e32 %0, %2
  $m0 = V_READFIRSTLANE_B32 %0
  SI_RETURN
}
`
    for _, name := range _Strategies {
        t.Run(name, func(t *testing.T) {
            desc := target.GFX9()
            desc.VGPRs = 2
            fn := parse(t, src)
            allocate(fn, desc, Vector, name)
            require.Empty(t, mir.RemainingVRegs(fn, mir.FileVector))
            require.NotEmpty(t, fn.Frame.Slots)
            require.NoError(t, mir.Verify(fn))
        })
    }
}

func TestRegistry(t *testing.T) {
    var wg sync.WaitGroup
    desc := target.GFX9()
    errs := make([]error, 8)

    /* concurrent first use */
    for i := range errs {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            _, errs[i] = New(desc, Vector, opts.StrategyGreedy)
        }(i)
    }
    wg.Wait()
    for _, err := range errs {
        require.NoError(t, err)
    }

    /* registered names */
    require.Equal(t, []string { "basic", "fast", "greedy" }, Strategies())

    /* unknown strategies */
    _, err := New(desc, Scalar, "linear")
    require.Error(t, err)
    require.True(t, errdefs.IsInvalidArgument(err))
    require.Error(t, fatalOf(func() { Pass { File: Scalar, Strategy: "linear", Target: desc }.Apply(mir.NewFunction("f")) }))
}

func TestPass_GenericOverride(t *testing.T) {
    fn := parse(t, _ScalarSource)
    err := fatalOf(func() { Pass { File: Scalar, Strategy: opts.StrategyFast, Generic: opts.StrategyGreedy, Target: target.GFX9() }.Apply(fn) })
    require.EqualError(t, err, "-regalloc not supported with amdgcn. Use -sgpr-regalloc, -wwm-regalloc, and -vgpr-regalloc")
    require.True(t, errdefs.IsInvalidArgument(err))
}

func TestClassify(t *testing.T) {
    fn := mir.NewFunction("f")
    s := fn.NewVReg(mir.SReg64)
    v := fn.NewVReg(mir.VReg64)
    w := fn.NewVRegWithFlags(mir.VGPR32, mir.FlagWWM)
    u := fn.NewVReg(mir.AV32)
    require.Equal(t, Scalar, Classify(fn, s))
    require.Equal(t, Vector, Classify(fn, v))
    require.Equal(t, WholeWave, Classify(fn, w))
    require.Equal(t, Unknown, Classify(fn, u))
    require.Equal(t, Scalar, Classify(fn, mir.Phys(mir.FileScalar, 3, 1)))
    require.Equal(t, Unknown, Classify(fn, mir.EXEC))
    fn.Constrain(u, mir.VGPR32)
    require.Equal(t, Vector, Classify(fn, u))
}

func TestWholeWaveAllocation(t *testing.T) {
    desc := target.GFX9()
    fn := parse(t, `func @wwm {
  %0 : vgpr_32
  %1 : vgpr_32
  %2 : vgpr_32
  %3 : sreg_64
bb.0:
  %3 = ENTER_STRICT_WWM
  %0 = V_SET_INACTIVE_B32 $v0, 0
  %1 = V_ADD_U32_e32 %0, %0
  EXIT_STRICT_WWM %3
  %2 = WWM_COPY %1
  $v1 = COPY %2
  SI_RETURN
}
`)
    allocate(fn, desc, Scalar, opts.StrategyGreedy)
    PreAllocateWWMRegs{}.Apply(fn)
    require.Equal(t, mir.FileWholeWave, fn.FileOf(mir.Virt(0)))
    require.Equal(t, mir.FileWholeWave, fn.FileOf(mir.Virt(1)))
    require.Equal(t, mir.FileVector, fn.FileOf(mir.Virt(2)))

    /* whole-wave registers, then the vector ones */
    Pass { File: WholeWave, Strategy: opts.StrategyGreedy, Target: desc }.Apply(fn)
    LowerWWMCopies{}.Apply(fn)
    VirtRegRewriter { File: WholeWave }.Apply(fn)
    ReserveWWMRegs{}.Apply(fn)
    require.Equal(t, []mir.Reg { mir.Phys(mir.FileWholeWave, 0, 1) }, fn.Info.WWMRegs)
    allocate(fn, desc, Vector, opts.StrategyGreedy)
    require.Equal(t, []string {
        "$s[0:1] = ENTER_STRICT_WWM",
        "$w0 = V_SET_INACTIVE_B32 $v0, 0",
        "$w0 = V_ADD_U32_e32 $w0, $w0",
        "EXIT_STRICT_WWM $s[0:1]",
        "$v0 = COPY $w0",
        "$v1 = COPY $v0",
        "SI_RETURN",
    }, body(fn.Entry()))
}

func TestVirtRegRewriter_OtherFileCopies(t *testing.T) {
    for _, name := range _Strategies {
        fn := parse(t, `func @x {
  %0 : sreg_32
  %1 : vgpr_32
bb.0:
  %0 = S_MOV_B32 1
  %1 = V_MOV_B32_e32 %0
  $v0 = COPY %1
  SI_RETURN
}
`)
        require.NotPanics(t, func() { allocate(fn, target.GFX9(), Scalar, name) }, name)
        ins := fn.Entry().Ins
        require.Equal(t, "$v0 = COPY %1", mir.PrintInstr(ins[len(ins) - 2]), name)
        require.True(t, ins[1].Args[1].Reg.IsPhysical(), name)
    }
}

func TestSpiller_AvoidsFixedRegisters(t *testing.T) {
    for _, name := range _Strategies {
        desc := target.GFX9()
        desc.VGPRs = 0
        fn := parse(t, `func @p {
  %0 : vgpr_32
  %1 : vgpr_32
bb.0:
  %0 = V_MOV_B32_e32 3
  %1 = V_ADD_U32_e32 %0, $v0
  $v1 = COPY %1
  SI_RETURN
}
`)
        allocate(fn, desc, Vector, name)
        require.Empty(t, mir.RemainingVRegs(fn, mir.FileVector), name)
        require.Equal(t, "$v2 = V_MOV_B32_e32 3", mir.PrintInstr(fn.Entry().Ins[0]), name)

        /* the live-in $v0 and the live-out $v1 are never clobbered */
        for _, ins := range fn.Entry().Ins {
            ins.ForEachDef(func(p *mir.Operand) {
                if ins.Op != mir.COPY && p.Reg.File() == mir.FileVector {
                    require.GreaterOrEqual(t, p.Reg.Num(), 2, "%s: %s", name, mir.PrintInstr(ins))
                }
            })
        }
    }
}

func TestSpiller_NoScratchRegisters(t *testing.T) {
    desc := target.GFX9()
    desc.WWMRegs = 0
    fn := parse(t, `func @w {
  %0 : vgpr_32 wwm
bb.0:
  $w[0:7] = IMPLICIT_DEF
  %0 = V_MOV_B32_e32 1
  $v0 = COPY %0
  SI_RETURN
}
`)
    err := fatalOf(func() { allocate(fn, desc, WholeWave, opts.StrategyFast) })
    require.Error(t, err)
    require.Contains(t, err.Error(), "no free wwm spill scratch registers")
}

func TestGreedy_SpilledSplitProducts(t *testing.T) {
    desc := target.GFX9()
    desc.VGPRs = 0
    fn := parse(t, `func @s {
  %0 : vgpr_32
bb.0:
  %0 = V_MOV_B32_e32 3
bb.1:
  $v1 = COPY %0
  SI_RETURN
}
`)
    allocate(fn, desc, Vector, opts.StrategyGreedy)
    require.Empty(t, mir.RemainingVRegs(fn, mir.FileVector))

    /* the pieces share the slot of the split register */
    require.Len(t, fn.Frame.Slots, 1)
    count := func(bb *mir.Block, op mir.Op) int {
        n := 0
        for _, ins := range bb.Ins {
            if ins.Op == op {
                n++
            }
        }
        return n
    }

    /* one store after the def, one reload before the use */
    require.Equal(t, 1, count(fn.Blocks[0], mir.SI_SPILL_V_SAVE))
    require.Equal(t, 0, count(fn.Blocks[0], mir.SI_SPILL_V_RESTORE))
    require.Equal(t, 0, count(fn.Blocks[1], mir.SI_SPILL_V_SAVE))
    require.Equal(t, 1, count(fn.Blocks[1], mir.SI_SPILL_V_RESTORE))
    require.Equal(t, mir.V_MOV_B32_e32, fn.Blocks[0].Ins[0].Op)
    require.Equal(t, mir.SI_SPILL_V_SAVE, fn.Blocks[0].Ins[1].Op)
}

func TestLowerSGPRSpills_ExecCopy(t *testing.T) {
    desc := target.GFX9()
    fn := parse(t, `func @x {
bb.0:
  $s0 = S_MOV_B32 1
  $s1 = S_MOV_B32 2
  $s3 = S_MOV_B32 3
  SI_RETURN
}
`)
    LowerSGPRSpills { Target: desc }.Apply(fn)
    require.Equal(t, mir.Phys(mir.FileScalar, 4, 2), fn.Info.ExecCopy)
    require.Equal(t, desc.StackPtr(), fn.Info.StackPtr)
}

func TestPreRALongBranchReg(t *testing.T) {
    src := `func @b {
bb.0:
  $s0 = S_MOV_B32 1
  $s1 = S_MOV_B32 2
  SI_RETURN
}
`
    desc := target.GFX9()
    fn := parse(t, src)
    PreRALongBranchReg { Target: desc }.Apply(fn)
    require.Equal(t, mir.NoReg, fn.Info.LongBranch)

    /* a tiny branch range */
    desc.ShortBranchRange = 8
    PreRALongBranchReg { Target: desc }.Apply(fn)
    require.Equal(t, desc.LongBranchReg(), fn.Info.LongBranch)
    require.True(t, fn.Info.IsReserved(mir.Phys(mir.FileScalar, desc.LongBranchReg().Num(), 1)))
}

func TestMarkLastScratchLoad(t *testing.T) {
    fn := parse(t, `func @m {
  %stack.0 : vector size 4 align 4 offset -1
bb.0:
  SI_SPILL_V_SAVE $v0, %stack.0
  $v1 = SI_SPILL_V_RESTORE %stack.0
  $v2 = SI_SPILL_V_RESTORE %stack.0
  SI_RETURN
}
`)
    MarkLastScratchLoad{}.Apply(fn)
    require.Equal(t, []string {
        "SI_SPILL_V_SAVE $v0, %stack.0",
        "$v1 = SI_SPILL_V_RESTORE %stack.0",
        "last-use $v2 = SI_SPILL_V_RESTORE %stack.0",
        "SI_RETURN",
    }, body(fn.Entry()))
}
