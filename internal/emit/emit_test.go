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

package emit

import (
    `fmt`
    `strings`
    `testing`

    `github.com/stretchr/testify/require`

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

func fatalOf(fn func()) (err error) {
    defer func() {
        if fe, ok := recover().(*utils.FatalError); ok {
            err = fe.Err
        }
    }()
    fn()
    return nil
}

func nops(n int) string {
    return strings.Repeat("  S_NOP 0\n", n)
}

func shortRange(n int) *target.Desc {
    ret := target.GFX9()
    ret.ShortBranchRange = n
    return ret
}

func TestBranchRelaxation_Far(t *testing.T) {
    fn := parse(t, fmt.Sprintf(`func @far {
bb.0:
  S_CBRANCH_SCC1 %%bb.2, implicit $scc
bb.1:
%sbb.2:
  SI_RETURN
}
`, nops(74)))
    n := metrics.Value(metrics.BranchesRelaxed)
    br := BranchRelaxation { Target: shortRange(256) }
    fn.Info.LongBranch = target.GFX9().LongBranchReg()

    /* 300 bytes away with a 256 bytes range */
    require.Equal(t, 300, mir.ComputeLayout(fn).Start[2])
    br.Apply(fn)
    require.Equal(t, mir.S_CBRANCH_SCC1_LONG, fn.Entry().Ins[0].Op)
    require.Equal(t, n + 1, metrics.Value(metrics.BranchesRelaxed))
    require.Equal(t, 24 + 296 + 4, fn.Size())

    /* nothing left to do */
    br.Apply(fn)
    require.Equal(t, n + 1, metrics.Value(metrics.BranchesRelaxed))
    require.Equal(t, mir.S_CBRANCH_SCC1_LONG, fn.Entry().Ins[0].Op)
}

func TestBranchRelaxation_Near(t *testing.T) {
    fn := parse(t, fmt.Sprintf(`func @near {
bb.0:
  S_CBRANCH_SCC1 %%bb.2, implicit $scc
bb.1:
%sbb.2:
  SI_RETURN
}
`, nops(60)))
    BranchRelaxation { Target: shortRange(256) }.Apply(fn)
    require.Equal(t, mir.S_CBRANCH_SCC1, fn.Entry().Ins[0].Op)
}

func TestBranchRelaxation_Backward(t *testing.T) {
    fn := parse(t, fmt.Sprintf(`func @back {
bb.0:
%sbb.1:
  S_CBRANCH_SCC1 %%bb.0, implicit $scc
bb.2:
  SI_RETURN
}
`, nops(70)))
    fn.Info.LongBranch = target.GFX9().LongBranchReg()
    BranchRelaxation { Target: shortRange(256) }.Apply(fn)
    require.Equal(t, mir.S_CBRANCH_SCC1_LONG, fn.Blocks[1].Ins[0].Op)
}

func TestBranchRelaxation_Cascade(t *testing.T) {
    fn := parse(t, fmt.Sprintf(`func @cascade {
bb.0:
  S_CBRANCH_SCC1 %%bb.3, implicit $scc
bb.1:
  S_CBRANCH_SCC0 %%bb.4, implicit $scc
bb.2:
%sbb.3:
%sbb.4:
  SI_RETURN
}
`, nops(61), nops(4)))
    n := metrics.Value(metrics.BranchesRelaxed)
    fn.Info.LongBranch = target.GFX9().LongBranchReg()

    /* widening the inner branch pushes the outer one out of range */
    BranchRelaxation { Target: shortRange(256) }.Apply(fn)
    require.Equal(t, mir.S_CBRANCH_SCC1_LONG, fn.Blocks[0].Ins[0].Op)
    require.Equal(t, mir.S_CBRANCH_SCC0_LONG, fn.Blocks[1].Ins[0].Op)
    require.Equal(t, n + 2, metrics.Value(metrics.BranchesRelaxed))
    require.True(t, fn.Blocks[1].Ins[0].WritesReg(fn.Info.LongBranch))
}

func TestBranchRelaxation_NoLongBranchReg(t *testing.T) {
    fn := parse(t, fmt.Sprintf(`func @far {
bb.0:
  S_CBRANCH_SCC1 %%bb.2, implicit $scc
bb.1:
%sbb.2:
  SI_RETURN
}
`, nops(74)))
    err := fatalOf(func() { BranchRelaxation { Target: shortRange(256) }.Apply(fn) })
    require.Error(t, err)
    require.Contains(t, err.Error(), "needs a long branch register")
    require.Equal(t, mir.S_CBRANCH_SCC1, fn.Entry().Ins[0].Op)
}

func TestPostRABundler(t *testing.T) {
    fn := parse(t, `func @bundle {
bb.0:
  $v0 = GLOBAL_LOAD_DWORD $v[2:3], 0
  $v1 = GLOBAL_LOAD_DWORD $v[2:3], 4
  $v4 = GLOBAL_LOAD_DWORD $v[0:1], 0
  $s0 = S_LOAD_DWORD $s[4:5], 0
  SI_RETURN
}
`)
    PostRABundler{}.Apply(fn)
    require.Equal(t, []string {
        "$v0 = GLOBAL_LOAD_DWORD $v[2:3], 0",
        "bundled $v1 = GLOBAL_LOAD_DWORD $v[2:3], 4",
        "$v4 = GLOBAL_LOAD_DWORD $v[0:1], 0",
        "$s0 = S_LOAD_DWORD $s[4:5], 0",
        "SI_RETURN",
    }, body(fn.Entry()))
}

func TestInsertHardClauses(t *testing.T) {
    fn := parse(t, `func @clauses {
bb.0:
  clause $v0 = GLOBAL_LOAD_DWORD $v[2:3], 0
  clause $v1 = GLOBAL_LOAD_DWORD $v[2:3], 4
  clause $v4 = GLOBAL_LOAD_DWORD $v[2:3], 8
  $v5 = V_ADD_U32_e32 $v0, $v1
  clause $s0 = S_LOAD_DWORD $s[4:5], 0
  SI_RETURN
}
`)
    InsertHardClauses{}.Apply(fn)
    require.Equal(t, []string {
        "S_CLAUSE 2",
        "clause $v0 = GLOBAL_LOAD_DWORD $v[2:3], 0",
        "clause $v1 = GLOBAL_LOAD_DWORD $v[2:3], 4",
        "clause $v4 = GLOBAL_LOAD_DWORD $v[2:3], 8",
        "$v5 = V_ADD_U32_e32 $v0, $v1",
        "clause $s0 = S_LOAD_DWORD $s[4:5], 0",
        "SI_RETURN",
    }, body(fn.Entry()))
}

func TestLateBranchLowering_Kernel(t *testing.T) {
    fn := parse(t, `func @k kernel {
bb.0:
  S_CBRANCH_SCC1 %bb.1, implicit $scc
bb.1:
  S_BRANCH %bb.2
bb.2:
  SI_RETURN
}
`)
    LateBranchLowering{}.Apply(fn)
    require.Empty(t, fn.Blocks[0].Ins)
    require.Empty(t, fn.Blocks[1].Ins)
    require.Equal(t, []string { "S_ENDPGM" }, body(fn.Blocks[2]))
    require.Equal(t, []*mir.Block { fn.Blocks[1] }, fn.Blocks[0].Succ)
    require.NoError(t, mir.Verify(fn))
}

func TestLateBranchLowering_Function(t *testing.T) {
    fn := parse(t, `func @f {
bb.0:
  S_CBRANCH_SCC1 %bb.2, implicit $scc
bb.1:
  $v0 = V_MOV_B32_e32 1
bb.2:
  SI_RETURN
}
`)
    LateBranchLowering{}.Apply(fn)
    require.Equal(t, []string { "S_CBRANCH_SCC1 %bb.2, implicit $scc" }, body(fn.Blocks[0]))
    require.Equal(t, []string { "SI_RETURN" }, body(fn.Blocks[2]))
}

func TestPreEmitPeephole(t *testing.T) {
    fn := parse(t, `func @skip {
bb.0:
  $v0 = V_MOV_B32_e32 0
  S_CBRANCH_EXECZ %bb.2, implicit $exec
bb.1:
  $v1 = IMPLICIT_DEF
bb.2:
  SI_RETURN
}
`)
    PreEmitPeephole{}.Apply(fn)
    require.Equal(t, []string { "$v0 = V_MOV_B32_e32 0" }, body(fn.Entry()))
    require.Equal(t, []*mir.Block { fn.Blocks[1] }, fn.Entry().Succ)
}

func TestPreEmitPeephole_KeepsSkips(t *testing.T) {
    fn := parse(t, `func @skip {
bb.0:
  S_CBRANCH_EXECZ %bb.2, implicit $exec
bb.1:
  $v1 = V_MOV_B32_e32 1
bb.2:
  SI_RETURN
}
`)
    PreEmitPeephole{}.Apply(fn)
    require.Len(t, fn.Entry().Ins, 1)
}

func TestLayout(t *testing.T) {
    fn := parse(t, `func @layout {
bb.0:
  $v0 = GLOBAL_LOAD_DWORD $v[2:3], 0
  S_CBRANCH_SCC1 %bb.2, implicit $scc
bb.1:
  $v1 = IMPLICIT_DEF
  S_NOP 0
bb.2:
  SI_RETURN
}
`)
    Layout{}.Apply(fn)
    require.NotNil(t, fn.Layout)
    require.Equal(t, map[int]int { 0: 0, 1: 12, 2: 16 }, fn.Layout.Start)
    require.Equal(t, 12, fn.Layout.Offset[fn.Blocks[1].Ins[0]])
    require.Equal(t, 12, fn.Layout.Offset[fn.Blocks[1].Ins[1]])
    require.Equal(t, 20, fn.Layout.Size)
}
