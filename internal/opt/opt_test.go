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

package opt

import (
    `testing`

    `github.com/cloudwego/wavegen/internal/mir`
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

func TestDeadCode_Idempotent(t *testing.T) {
    fn := parse(t, `func @f {
  %0 : sreg_32
  %1 : sreg_32
  %2 : vgpr_32
  %3 : vgpr_32
  %4 : vreg_64
bb.0:
  %4 = IMPLICIT_DEF
  %0 = S_MOV_B32 1
  %1 = S_ADD_U32 %0, 2, implicit-def dead $scc
  %2 = V_MOV_B32_e32 3, implicit $exec
  %3 = V_ADD_U32_e32 %2, %2, implicit $exec
  GLOBAL_STORE_DWORD %4, %3, 0, implicit $exec
  S_ENDPGM
}
`)
    require.Equal(t, 2, EliminateDeadCode(fn))
    require.Equal(t, []string {
        "%4 = IMPLICIT_DEF",
        "%2 = V_MOV_B32_e32 3, implicit $exec",
        "%3 = V_ADD_U32_e32 %2, %2, implicit $exec",
        "GLOBAL_STORE_DWORD %4, %3, 0, implicit $exec",
        "S_ENDPGM",
    }, body(fn.Entry()))
    require.Equal(t, 0, EliminateDeadCode(fn))
}

func TestDeadCode_KeepsLiveFlags(t *testing.T) {
    fn := parse(t, `func @f {
  %0 : sreg_32
bb.0:
  %0 = S_MOV_B32 1
  S_CMP_EQ_U32 %0, 1, implicit-def $scc
  S_CBRANCH_SCC1 %bb.1, implicit $scc
bb.1:
  S_ENDPGM
}
`)
    require.Equal(t, 0, EliminateDeadCode(fn))
    require.Len(t, fn.Entry().Ins, 3)
}

const _LoadPair = `func @f {
  %0 : vreg_64
  %1 : vgpr_32
  %2 : vgpr_32
  %3 : vgpr_32
  %4 : sreg_64
bb.0:
  %0 = IMPLICIT_DEF
  %1 = GLOBAL_LOAD_DWORD %0, 4, implicit $exec
  %2 = GLOBAL_LOAD_DWORD %0, 0, implicit $exec
  %3 = V_ADD_U32_e32 %1, %2, implicit $exec
  GLOBAL_STORE_DWORD %0, %3, 16, implicit $exec
  S_ENDPGM
}
`

func TestLoadStoreOpt_MergesLoads(t *testing.T) {
    fn := parse(t, _LoadPair)
    LoadStoreOpt{}.Apply(fn)
    require.Equal(t, []string {
        "%0 = IMPLICIT_DEF",
        "%5 = GLOBAL_LOAD_DWORDX2 %0, 0, implicit $exec",
        "%3 = V_ADD_U32_e32 %5.sub1, %5.sub0, implicit $exec",
        "GLOBAL_STORE_DWORD %0, %3, 16, implicit $exec",
        "S_ENDPGM",
    }, body(fn.Entry()))
    require.Equal(t, mir.VReg64, fn.ClassOf(mir.Virt(5)))
}

func TestLoadStoreOpt_CallBlocksMerge(t *testing.T) {
    fn := parse(t, `func @f {
  %0 : vreg_64
  %1 : vgpr_32
  %2 : vgpr_32
  %3 : sreg_64
bb.0:
  %0 = IMPLICIT_DEF
  %1 = GLOBAL_LOAD_DWORD %0, 0, implicit $exec
  %3 = SI_CALL 0
  %2 = GLOBAL_LOAD_DWORD %0, 4, implicit $exec
  GLOBAL_STORE_DWORD %0, %1, 16, implicit $exec
  GLOBAL_STORE_DWORD %0, %2, 24, implicit $exec
  S_ENDPGM
}
`)
    before := body(fn.Entry())
    LoadStoreOpt{}.Apply(fn)
    require.Equal(t, before, body(fn.Entry()))
}

func TestLoadStoreOpt_RedefinedBase(t *testing.T) {
    fn := parse(t, `func @f {
  %0 : vreg_64
  %1 : vgpr_32
  %2 : vgpr_32
bb.0:
  %0 = IMPLICIT_DEF
  %1 = GLOBAL_LOAD_DWORD %0, 0, implicit $exec
  %0 = IMPLICIT_DEF
  %2 = GLOBAL_LOAD_DWORD %0, 4, implicit $exec
  GLOBAL_STORE_DWORD %0, %1, 16, implicit $exec
  GLOBAL_STORE_DWORD %0, %2, 24, implicit $exec
  S_ENDPGM
}
`)
    before := body(fn.Entry())
    LoadStoreOpt{}.Apply(fn)
    require.Equal(t, before, body(fn.Entry()))
}

func TestLoadStoreOpt_RedefinedStoreData(t *testing.T) {
    fn := parse(t, `func @f {
  %0 : vreg_64
  %1 : vgpr_32
  %2 : vgpr_32
bb.0:
  %0 = IMPLICIT_DEF
  %1 = V_MOV_B32_e32 1, implicit $exec
  GLOBAL_STORE_DWORD %0, %1, 8, implicit $exec
  %1 = V_MOV_B32_e32 2, implicit $exec
  GLOBAL_STORE_DWORD %0, %1, 12, implicit $exec
  S_ENDPGM
}
`)
    before := body(fn.Entry())
    LoadStoreOpt{}.Apply(fn)
    require.Equal(t, before, body(fn.Entry()))
}

func TestLoadStoreOpt_MergesStores(t *testing.T) {
    fn := parse(t, `func @f {
  %0 : vreg_64
  %1 : vgpr_32
  %2 : vgpr_32
bb.0:
  %0 = IMPLICIT_DEF
  %1 = V_MOV_B32_e32 1, implicit $exec
  %2 = V_MOV_B32_e32 2, implicit $exec
  GLOBAL_STORE_DWORD %0, %1, 8, implicit $exec
  GLOBAL_STORE_DWORD %0, %2, 12, implicit $exec
  S_ENDPGM
}
`)
    LoadStoreOpt{}.Apply(fn)
    require.Equal(t, []string {
        "%0 = IMPLICIT_DEF",
        "%1 = V_MOV_B32_e32 1, implicit $exec",
        "%2 = V_MOV_B32_e32 2, implicit $exec",
        "undef %3.sub0 = COPY %1",
        "%3.sub1 = COPY %2",
        "GLOBAL_STORE_DWORDX2 %0, %3, 8, implicit $exec",
        "S_ENDPGM",
    }, body(fn.Entry()))
}

func TestFoldOperands(t *testing.T) {
    fn := parse(t, `func @f {
  %0 : vgpr_32
  %1 : vgpr_32
  %2 : vgpr_32
  %3 : vgpr_32
  %4 : vgpr_32
  %5 : sreg_32
  %6 : sreg_32
  %7 : vgpr_32
bb.0:
  %0 = V_MOV_B32_e32 5, implicit $exec
  %1 = V_MOV_B32_e32 6, implicit $exec
  %2 = IMPLICIT_DEF
  %3 = V_ADD_U32_e32 %0, %2, implicit $exec
  %4 = V_ADD_U32_e32 %2, %1, implicit $exec
  %5 = S_ADD_U32 $s96, 16, implicit-def dead $scc
  %7 = SCRATCH_LOAD_DWORD %5, 4, implicit $exec
  S_ENDPGM
}
`)
    FoldOperands{}.Apply(fn)
    require.Equal(t, []string {
        "%1 = V_MOV_B32_e32 6, implicit $exec",
        "%2 = IMPLICIT_DEF",
        "%3 = V_ADD_U32_e32 5, %2, implicit $exec",
        "%4 = V_ADD_U32_e32 %2, %1, implicit $exec",
        "%7 = SCRATCH_LOAD_DWORD $s96, 20, implicit $exec",
        "S_ENDPGM",
    }, body(fn.Entry()))
}

func TestFixSGPRCopies(t *testing.T) {
    fn := parse(t, `func @f {
  %0 : vgpr_32
  %1 : sreg_32
  %2 : av_32
  %3 : av_32
  %4 : vgpr_32
  %5 : sreg_32
bb.0:
  %0 = IMPLICIT_DEF
  %1 = COPY %0
  %2 = IMPLICIT_DEF
  %3 = IMPLICIT_DEF
  %4 = V_ADD_U32_e32 %0, %2, implicit $exec
  %5 = S_ADD_U32 %3, %0, implicit-def dead $scc
  S_ENDPGM
}
`)
    FixSGPRCopies{}.Apply(fn)
    require.True(t, fn.BanksResolved())
    require.Equal(t, mir.VGPR32, fn.ClassOf(mir.Virt(2)))
    require.Equal(t, mir.SReg32, fn.ClassOf(mir.Virt(3)))
    require.Equal(t, []string {
        "%0 = IMPLICIT_DEF",
        "%1 = V_READFIRSTLANE_B32 %0, implicit $exec",
        "%2 = IMPLICIT_DEF",
        "%3 = IMPLICIT_DEF",
        "%4 = V_ADD_U32_e32 %0, %2, implicit $exec",
        "%6 = V_READFIRSTLANE_B32 %0, implicit $exec",
        "%5 = S_ADD_U32 %3, killed %6, implicit-def dead $scc",
        "S_ENDPGM",
    }, body(fn.Entry()))
    require.NoError(t, mir.Verify(fn))
}

func TestDPPCombine(t *testing.T) {
    fn := parse(t, `func @f {
  %0 : vgpr_32
  %1 : vgpr_32
  %2 : vgpr_32
  %3 : vgpr_32
bb.0:
  %0 = IMPLICIT_DEF
  %3 = IMPLICIT_DEF
  %1 = V_MOV_B32_dpp %0, 27, implicit $exec
  %2 = V_ADD_U32_e32 %1, %3, implicit $exec
  S_ENDPGM
}
`)
    DPPCombine{}.Apply(fn)
    require.Equal(t, []string {
        "%0 = IMPLICIT_DEF",
        "%3 = IMPLICIT_DEF",
        "%2 = V_ADD_U32_dpp %0, %3, 27, implicit $exec",
        "S_ENDPGM",
    }, body(fn.Entry()))
}

func TestPeepholeOpt_ForwardsCopies(t *testing.T) {
    fn := parse(t, `func @f {
  %0 : vgpr_32
  %1 : vgpr_32
  %2 : vgpr_32
  %3 : vgpr_32
bb.0:
  %0 = IMPLICIT_DEF
  %1 = COPY %0
  %2 = COPY %1
  %3 = V_ADD_U32_e32 %2, %1, implicit $exec
  $v0 = COPY %3
  S_ENDPGM
}
`)
    PeepholeOpt{}.Apply(fn)
    require.Equal(t, "%3 = V_ADD_U32_e32 %0, %0, implicit $exec", mir.PrintInstr(fn.Entry().Ins[3]))

    /* only the forwarded copies are dead */
    require.Equal(t, 2, EliminateDeadCode(fn))
    require.Equal(t, []string {
        "%0 = IMPLICIT_DEF",
        "%3 = V_ADD_U32_e32 %0, %0, implicit $exec",
        "$v0 = COPY %3",
        "S_ENDPGM",
    }, body(fn.Entry()))
}

func TestShrinkInstructions(t *testing.T) {
    fn := parse(t, `func @f {
  %0 : sreg_32
  %1 : vgpr_32
  %2 : vgpr_32
bb.0:
  %0 = IMPLICIT_DEF
  %1 = IMPLICIT_DEF
  %2 = V_ADD_U32_e64 %1, %0, implicit $exec
  $vcc = V_CMP_LT_I32_e64 %0, %1, implicit $exec
  S_ENDPGM
}
`)
    ShrinkInstructions{}.Apply(fn)
    require.Equal(t, []string {
        "%0 = IMPLICIT_DEF",
        "%1 = IMPLICIT_DEF",
        "%2 = V_ADD_U32_e32 %0, %1, implicit $exec",
        "V_CMP_LT_I32_e32 %0, %1, implicit $exec",
        "S_ENDPGM",
    }, body(fn.Entry()))
}

func TestDeadLanesAndPartialRegs(t *testing.T) {
    fn := parse(t, `func @f {
  %0 : vreg_64
  %1 : vgpr_32
  %2 : vreg_64
bb.0:
  undef %0.sub0 = V_MOV_B32_e32 1, implicit $exec
  %0.sub1 = V_MOV_B32_e32 2, implicit $exec
  %1 = V_ADD_U32_e32 %0.sub1, %0.sub1, implicit $exec
  undef %2.sub1 = V_MOV_B32_e32 3, implicit $exec
  GLOBAL_STORE_DWORD %0, %2.sub1, 0, implicit $exec
  S_ENDPGM
}
`)
    DetectDeadLanes{}.Apply(fn)
    require.False(t, fn.Entry().Ins[0].Args[0].IsDead())
    RewritePartialRegUses{}.Apply(fn)
    require.Equal(t, "%3 = V_MOV_B32_e32 3, implicit $exec", mir.PrintInstr(fn.Entry().Ins[3]))
    require.Equal(t, mir.VGPR32, fn.ClassOf(mir.Virt(3)))

    /* the low half is never read once the store goes away */
    fn.Entry().RemoveAt(4)
    DetectDeadLanes{}.Apply(fn)
    require.True(t, fn.Entry().Ins[0].Args[0].IsDead())
    require.False(t, fn.Entry().Ins[1].Args[0].IsDead())
}

func TestPreRAOptimizations_SplitsMoves(t *testing.T) {
    fn := parse(t, `func @f {
  %0 : sreg_64
  %1 : sreg_32
  %2 : sreg_64
bb.0:
  %0 = S_MOV_B64 8589934595
  %2 = S_MOV_B64 -1
  %1 = S_ADD_U32 %0.sub0, %0.sub1, implicit-def dead $scc
  $exec = S_AND_B64 $exec, %2, implicit-def dead $scc
  $m0 = COPY %1
  SI_RETURN
}
`)
    PreRAOptimizations{}.Apply(fn)
    require.Equal(t, []string {
        "%3 = S_MOV_B32 3",
        "%4 = S_MOV_B32 2",
        "%2 = S_MOV_B64 -1",
        "%1 = S_ADD_U32 %3, %4, implicit-def dead $scc",
        "$exec = S_AND_B64 $exec, %2, implicit-def dead $scc",
        "$m0 = COPY %1",
        "SI_RETURN",
    }, body(fn.Entry()))
    require.Equal(t, mir.SReg32, fn.ClassOf(mir.Virt(3)))
    require.NoError(t, mir.Verify(fn))
}
