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

package sched

import (
    `fmt`
    `testing`

    `github.com/containerd/errdefs`
    `github.com/stretchr/testify/require`
    `pgregory.net/rapid`

    `github.com/cloudwego/wavegen/internal/metrics`
    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/target`
    `github.com/cloudwego/wavegen/internal/utils`
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

func waitcnt(vm int, lgkm int) string {
    return fmt.Sprintf("S_WAITCNT %d", EncodeWaitcnt(vm, lgkm))
}

func TestBuildDAG(t *testing.T) {
    fn := parse(t, `func @dag {
bb.0:
  $v0 = GLOBAL_LOAD_DWORD $v[2:3], 0
  $v1 = V_ADD_U32_e32 $v0, $v0
  GLOBAL_STORE_DWORD $v[2:3], $v1, 0
  GLOBAL_STORE_DWORD $v[2:3], $v1, 8
  $v0 = V_MOV_B32_e32 1
  SI_RETURN
}
`)
    bb := fn.Entry()
    dag := BuildDAG(target.GFX9(), bb.Ins[:5])
    n := dag.Nodes

    /* true dependence with the load latency */
    require.Equal(t, []Edge { { Node: n[0], Kind: DepData, Latency: 80 } }, n[1].Preds)

    /* stores are ordered against aliasing accesses only */
    require.True(t, n[2].DependsOn(n[0]))
    require.True(t, n[2].DependsOn(n[1]))
    require.False(t, n[3].DependsOn(n[0]))
    require.False(t, n[3].DependsOn(n[2]))

    /* anti and output dependences */
    require.True(t, n[4].DependsOn(n[0]))
    require.True(t, n[4].DependsOn(n[1]))
    require.False(t, n[4].DependsOn(n[2]))

    /* critical path */
    require.Equal(t, 84, n[0].Height)
    require.Equal(t, 4, n[1].Height)
    require.Equal(t, 84, n[2].Depth)
}

func TestMayAlias(t *testing.T) {
    fn := parse(t, `func @alias {
  %stack.0 : vector size 4 align 4 offset -1
  %stack.1 : vector size 4 align 4 offset -1
bb.0:
  $v0 = GLOBAL_LOAD_DWORD $v[2:3], 0
  GLOBAL_STORE_DWORDX2 $v[2:3], $v[4:5], 4
  GLOBAL_STORE_DWORD $v[6:7], $v1, 0
  SI_SPILL_V_SAVE $v0, %stack.0
  $v1 = SI_SPILL_V_RESTORE %stack.1
  $v1 = SCRATCH_LOAD_DWORD $s8, 0
  SI_RETURN
}
`)
    ins := fn.Entry().Ins
    require.False(t, MayAlias(ins[0], ins[1]))
    require.True(t, MayAlias(ins[0], ins[2]))
    require.False(t, MayAlias(ins[3], ins[4]))
    require.True(t, MayAlias(ins[3], ins[3]))
    require.False(t, MayAlias(ins[3], ins[0]))
    require.True(t, MayAlias(ins[4], ins[5]))
}

func TestSchedule_Latency(t *testing.T) {
    fn := parse(t, `func @lat {
bb.0:
  $v0 = GLOBAL_LOAD_DWORD $v[2:3], 0
  $v1 = V_ADD_U32_e32 $v0, $v0
  $v4 = V_MOV_B32_e32 7
  SI_RETURN
}
`)
    PostRAScheduler { Strategy: StrategyLatency, Target: target.GFX9() }.Apply(fn)
    require.Equal(t, []string {
        "$v0 = GLOBAL_LOAD_DWORD $v[2:3], 0",
        "$v4 = V_MOV_B32_e32 7",
        "$v1 = V_ADD_U32_e32 $v0, $v0",
        "SI_RETURN",
    }, body(fn.Entry()))
}

func TestSchedule_MemoryClause(t *testing.T) {
    fn := parse(t, `func @clause {
bb.0:
  $v0 = GLOBAL_LOAD_DWORD $v[8:9], 0
  $v4 = V_MOV_B32_e32 1
  $v1 = GLOBAL_LOAD_DWORD $v[8:9], 4
  $v5 = V_ADD_U32_e32 $v0, $v1
  SI_RETURN
}
`)
    PostRAScheduler { Strategy: StrategyMemoryClause, Target: target.GFX9() }.Apply(fn)
    require.Equal(t, []string {
        "$v0 = GLOBAL_LOAD_DWORD $v[8:9], 0",
        "$v1 = GLOBAL_LOAD_DWORD $v[8:9], 4",
        "$v4 = V_MOV_B32_e32 1",
        "$v5 = V_ADD_U32_e32 $v0, $v1",
        "SI_RETURN",
    }, body(fn.Entry()))
}

func TestSchedule_Barriers(t *testing.T) {
    fn := parse(t, `func @barrier {
bb.0:
  $v0 = GLOBAL_LOAD_DWORD $v[2:3], 0
  S_BARRIER
  $v1 = V_ADD_U32_e32 $v0, $v0
  $v4 = V_MOV_B32_e32 7
  SI_RETURN
}
`)
    rs := Regions(fn.Entry())
    require.Len(t, rs, 2)
    require.Equal(t, 0, rs[0].Begin)
    require.Equal(t, 1, rs[0].End)
    require.Equal(t, 2, rs[1].Begin)
    require.Equal(t, 4, rs[1].End)

    /* nothing crosses the barrier, nothing to gain after it */
    PostRAScheduler { Strategy: StrategyLatency, Target: target.GFX9() }.Apply(fn)
    require.Equal(t, []string {
        "$v0 = GLOBAL_LOAD_DWORD $v[2:3], 0",
        "S_BARRIER",
        "$v1 = V_ADD_U32_e32 $v0, $v0",
        "$v4 = V_MOV_B32_e32 7",
        "SI_RETURN",
    }, body(fn.Entry()))
}

func TestSchedule_KillFlags(t *testing.T) {
    fn := parse(t, `func @kill {
bb.0:
  $v0 = GLOBAL_LOAD_DWORD $v[2:3], 0
  $v1 = V_ADD_U32_e32 $v0, $v0
  $v4 = V_MOV_B32_e32 killed $v5
  $v6 = V_ADD_U32_e32 $v5, $v4
  SI_RETURN
}
`)
    ins := append([]*mir.Instr(nil), fn.Entry().Ins[:4]...)
    ret := Schedule(target.GFX9(), _MinReg{}, ins)
    require.Len(t, ret, 4)

    /* exactly one reader of $v5 is the killing one, and it is the last */
    last := -1
    kills := 0
    for i, p := range ret {
        for _, a := range p.Args {
            if a.IsReg() && a.IsUse() && a.Reg == mir.Phys(mir.FileVector, 5, 1) {
                last = i
                if a.IsKill() { kills++ }
            }
        }
    }
    require.Equal(t, 1, kills)
    for _, a := range ret[last].Args {
        if a.IsReg() && a.Reg == mir.Phys(mir.FileVector, 5, 1) {
            require.True(t, a.IsKill())
        }
    }
}

func TestStrategies(t *testing.T) {
    require.Equal(t, []string { "ilp", "latency", "memory-clause", "min-reg" }, Strategies())
    _, err := NewStrategy("random")
    require.True(t, errdefs.IsInvalidArgument(err))

    /* the pass fails fatally */
    var fe *utils.FatalError
    func() {
        defer func() { fe, _ = recover().(*utils.FatalError) }()
        MachineScheduler { Strategy: "random", Target: target.GFX9() }.Apply(mir.NewFunction("f"))
    }()
    require.NotNil(t, fe)
    require.True(t, errdefs.IsInvalidArgument(fe))
}

type _Op struct {
    kind int
    dst  int
    a    int
    b    int
    off  int
}

func vreg(n int) mir.Reg {
    return mir.Phys(mir.FileVector, n, 1)
}

func buildOp(op _Op) *mir.Instr {
    base := mir.Phys(mir.FileVector, 8, 2)
    switch op.kind {
        case 0  : return mir.NewInstr(mir.V_MOV_B32_e32, mir.Def(vreg(op.dst)), mir.Imm(int64(op.a)))
        case 1  : return mir.NewInstr(mir.V_ADD_U32_e32, mir.Def(vreg(op.dst)), mir.Use(vreg(op.a)), mir.Use(vreg(op.b)))
        case 2  : return mir.NewInstr(mir.GLOBAL_LOAD_DWORD, mir.Def(vreg(op.dst)), mir.Use(base), mir.Imm(int64(op.off)))
        default : return mir.NewInstr(mir.GLOBAL_STORE_DWORD, mir.Use(base), mir.Use(vreg(op.a)), mir.Imm(int64(op.off)))
    }
}

// conflicts reports whether two instructions must stay in order.
func conflicts(a *mir.Instr, b *mir.Instr) bool {
    writes := func(x *mir.Instr, y *mir.Instr) bool {
        for _, p := range x.Args {
            if p.IsDef() && (y.ReadsReg(p.Reg) || y.WritesReg(p.Reg)) {
                return true
            }
        }
        return false
    }

    /* memory accesses */
    if isMemory(a) && isMemory(b) && (a.MayStore() || b.MayStore()) && MayAlias(a, b) {
        return true
    }

    /* register accesses */
    return writes(a, b) || writes(b, a)
}

func TestSchedule_PreservesDependences(t *testing.T) {
    rapid.Check(t, func(rt *rapid.T) {
        name := rapid.SampledFrom(Strategies()).Draw(rt, "strategy")
        n := rapid.IntRange(2, 12).Draw(rt, "n")
        ins := make([]*mir.Instr, n)

        /* random straight-line code over four registers */
        for i := range ins {
            ins[i] = buildOp(_Op {
                kind : rapid.IntRange(0, 3).Draw(rt, "kind"),
                dst  : rapid.IntRange(0, 3).Draw(rt, "dst"),
                a    : rapid.IntRange(0, 3).Draw(rt, "a"),
                b    : rapid.IntRange(0, 3).Draw(rt, "b"),
                off  : rapid.SampledFrom([]int { 0, 4, 8 }).Draw(rt, "off"),
            })
        }

        /* schedule a copy */
        s, err := NewStrategy(name)
        require.NoError(rt, err)
        ret := Schedule(target.GFX9(), s, append([]*mir.Instr(nil), ins...))
        require.ElementsMatch(rt, ins, ret)

        /* positions in the new order */
        pos := make(map[*mir.Instr]int, n)
        for i, p := range ret {
            pos[p] = i
        }

        /* dependent pairs keep their order */
        for i := range ins {
            for j := i + 1; j < n; j++ {
                if conflicts(ins[i], ins[j]) {
                    require.Less(rt, pos[ins[i]], pos[ins[j]], "%s before %s", mir.PrintInstr(ins[i]), mir.PrintInstr(ins[j]))
                }
            }
        }
    })
}

func TestHazardRecognizer_AcrossBlocks(t *testing.T) {
    fn := parse(t, `func @hz {
bb.0:
  $v0 = V_MOV_B32_e32 1
bb.1:
  $v1 = V_MOV_B32_dpp $v0
  SI_RETURN
}
`)
    n := metrics.Value(metrics.HazardNops)
    hr := HazardRecognizer { Target: target.GFX9() }
    hr.Apply(fn)
    require.Equal(t, []string {
        "S_NOP 1",
        "$v1 = V_MOV_B32_dpp $v0",
        "SI_RETURN",
    }, body(fn.Blocks[1]))
    require.Equal(t, n + 1, metrics.Value(metrics.HazardNops))

    /* a second run is a no-op */
    hr.Apply(fn)
    require.Len(t, fn.Blocks[1].Ins, 3)
    require.Len(t, fn.Blocks[0].Ins, 1)
}

func TestHazardRecognizer_ExecWrite(t *testing.T) {
    fn := parse(t, `func @hz {
bb.0:
  $exec = S_MOV_B64 $s[0:1]
  $v1 = V_MOV_B32_dpp $v0
  SI_RETURN
}
`)
    HazardRecognizer { Target: target.GFX9() }.Apply(fn)
    require.Equal(t, []string {
        "$exec = S_MOV_B64 $s[0:1]",
        "S_NOP 4",
        "$v1 = V_MOV_B32_dpp $v0",
        "SI_RETURN",
    }, body(fn.Entry()))
}

func TestHazardRecognizer_Loop(t *testing.T) {
    fn := parse(t, `func @hz {
bb.0:
  $v1 = V_MOV_B32_dpp $v0
  $v0 = V_MOV_B32_e32 1
  S_BRANCH %bb.0
}
`)
    HazardRecognizer { Target: target.GFX9() }.Apply(fn)
    require.Equal(t, []string {
        "S_NOP 0",
        "$v1 = V_MOV_B32_dpp $v0",
        "$v0 = V_MOV_B32_e32 1",
        "S_BRANCH %bb.0",
    }, body(fn.Entry()))
}

func TestHazardRecognizer_EnoughWaits(t *testing.T) {
    fn := parse(t, `func @hz {
bb.0:
  $v0 = V_MOV_B32_e32 1
  $v2 = V_MOV_B32_e32 2
  $v3 = V_MOV_B32_e32 3
  $v1 = V_MOV_B32_dpp $v0
  SI_RETURN
}
`)
    HazardRecognizer { Target: target.GFX9() }.Apply(fn)
    require.Len(t, fn.Entry().Ins, 5)
}

func TestInsertWaitcnts(t *testing.T) {
    fn := parse(t, `func @wait {
bb.0:
  $v0 = GLOBAL_LOAD_DWORD $v[2:3], 0
  $v1 = GLOBAL_LOAD_DWORD $v[2:3], 4
  $s0 = S_LOAD_DWORD $s[4:5], 0
  $v4 = V_ADD_U32_e32 $v0, $v0
  $v5 = V_ADD_U32_e32 $s0, $v1
  SI_RETURN
}
`)
    InsertWaitcnts{}.Apply(fn)
    require.Equal(t, []string {
        "$v0 = GLOBAL_LOAD_DWORD $v[2:3], 0",
        "$v1 = GLOBAL_LOAD_DWORD $v[2:3], 4",
        "$s0 = S_LOAD_DWORD $s[4:5], 0",
        waitcnt(1, NoWait),
        "$v4 = V_ADD_U32_e32 $v0, $v0",
        waitcnt(0, 0),
        "$v5 = V_ADD_U32_e32 $s0, $v1",
        "SI_RETURN",
    }, body(fn.Entry()))
}

func TestInsertWaitcnts_Join(t *testing.T) {
    fn := parse(t, `func @wait {
bb.0:
  $v0 = GLOBAL_LOAD_DWORD $v[2:3], 0
  S_CBRANCH_SCC1 %bb.2, implicit $scc
bb.1:
  $v1 = V_MOV_B32_e32 0
bb.2:
  $v4 = V_ADD_U32_e32 $v0, $v0
  SI_RETURN
}
`)
    InsertWaitcnts{}.Apply(fn)
    require.Len(t, fn.Blocks[1].Ins, 1)
    require.Equal(t, []string {
        waitcnt(0, NoWait),
        "$v4 = V_ADD_U32_e32 $v0, $v0",
        "SI_RETURN",
    }, body(fn.Blocks[2]))
}

func TestInsertWaitcnts_Loop(t *testing.T) {
    fn := parse(t, `func @wait {
bb.0:
  $v0 = GLOBAL_LOAD_DWORD $v[2:3], 0
bb.1:
  $v1 = GLOBAL_LOAD_DWORD $v[2:3], 4
  $v4 = V_ADD_U32_e32 $v0, $v4
  S_CBRANCH_SCC1 %bb.1, implicit $scc
bb.2:
  SI_RETURN
}
`)
    InsertWaitcnts{}.Apply(fn)
    require.Equal(t, []string {
        waitcnt(0, NoWait),
        "$v1 = GLOBAL_LOAD_DWORD $v[2:3], 4",
        "$v4 = V_ADD_U32_e32 $v0, $v4",
        "S_CBRANCH_SCC1 %bb.1, implicit $scc",
    }, body(fn.Blocks[1]))
    require.Equal(t, []string {
        waitcnt(0, NoWait),
        "SI_RETURN",
    }, body(fn.Blocks[2]))
}

func TestWaitcntEncoding(t *testing.T) {
    require.Equal(t, int64(0), EncodeWaitcnt(0, 0))
    vm, lgkm := DecodeWaitcnt(EncodeWaitcnt(3, NoWait))
    require.Equal(t, 3, vm)
    require.Equal(t, LGKMCntMax, lgkm)
}

func TestMemoryLegalizer(t *testing.T) {
    fn := parse(t, `func @fence {
bb.0:
  ATOMIC_FENCE
  SI_RETURN
}
`)
    MemoryLegalizer{}.Apply(fn)
    require.Equal(t, []string {
        "S_WAITCNT 0",
        "BUFFER_WBINVL1",
        "SI_RETURN",
    }, body(fn.Entry()))
}

func TestFormMemoryClauses(t *testing.T) {
    fn := parse(t, `func @clauses {
  %0 : vreg_64
  %1 : vgpr_32
  %2 : vgpr_32
  %3 : vgpr_32
  %4 : vreg_64
  %5 : vgpr_32
bb.0:
  %1 = GLOBAL_LOAD_DWORD %0, 0
  %2 = GLOBAL_LOAD_DWORD %0, 8
  %3 = V_ADD_U32_e32 %1, %2
  %4 = GLOBAL_LOAD_DWORDX2 %0, 16
  %5 = GLOBAL_LOAD_DWORD %4, 0
  SI_RETURN
}
`)
    FormMemoryClauses{}.Apply(fn)
    require.Equal(t, []string {
        "clause %1 = GLOBAL_LOAD_DWORD %0, 0",
        "clause %2 = GLOBAL_LOAD_DWORD %0, 8",
        "%3 = V_ADD_U32_e32 %1, %2",
        "%4 = GLOBAL_LOAD_DWORDX2 %0, 16",
        "%5 = GLOBAL_LOAD_DWORD %4, 0",
        "SI_RETURN",
    }, body(fn.Entry()))
}
