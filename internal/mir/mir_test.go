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

package mir

import (
    `testing`

    `github.com/google/go-cmp/cmp`
    `github.com/stretchr/testify/require`
)

const _LoopSource = `func @loop kernel {
  %0 : sreg_32
  %1 : sreg_32
  %2 : vreg_64
  %3 : vgpr_32 wwm
  %stack.0 : scalar size 4 align 4 offset -1
  stack-ptr $s96
  live-in $s[0:1]
bb.0:
  frame-setup %0 = S_MOV_B32 0
  %2 = IMPLICIT_DEF
  %3 = V_MOV_B32_e32 7, implicit $exec
bb.1:
  %1 = S_ADD_U32 %0, 1, implicit-def dead $scc
  %0 = COPY killed %1
  S_CMP_LG_U32 %0, 10, implicit-def $scc
  S_CBRANCH_SCC1 %bb.1, implicit $scc
bb.2:
  GLOBAL_STORE_DWORD %2, %2.sub1, 4
  SI_SPILL_S_SAVE %0, %stack.0
  S_ENDPGM
}
`

func TestParse_RoundTrip(t *testing.T) {
    fn, err := ParseFunction(_LoopSource)
    require.NoError(t, err)
    require.Equal(t, "loop", fn.Name)
    require.True(t, fn.Kernel)
    require.Len(t, fn.Blocks, 3)
    require.Len(t, fn.VRegs, 4)
    require.Equal(t, FileWholeWave, fn.FileOf(Virt(3)))
    require.Equal(t, Phys(FileScalar, 96, 1), fn.Info.StackPtr)
    require.Equal(t, "", cmp.Diff(_LoopSource, Print(fn)))
}

func TestParse_CFG(t *testing.T) {
    fn, err := ParseFunction(_LoopSource)
    require.NoError(t, err)
    b0, b1, b2 := fn.Blocks[0], fn.Blocks[1], fn.Blocks[2]
    require.Equal(t, []*Block { b1 }, b0.Succ)
    require.ElementsMatch(t, []*Block { b1, b2 }, b1.Succ)
    require.ElementsMatch(t, []*Block { b0, b1 }, b1.Pred)
    require.Empty(t, b2.Succ)
    require.NoError(t, Verify(fn))
}

func TestParse_Errors(t *testing.T) {
    for _, src := range []string {
        "func @f {\nbb.0:\n  S_FOO\n}\n",
        "func @f {\nbb.0:\n  %0 = S_MOV_B32 1\n}\n",
        "func @f {\nbb.0:\n  S_BRANCH %bb.7\n}\n",
        "func @f {\n  %0 : sreg_512\n}\n",
        "func @f {\nbb.0:\n  S_ENDPGM\n",
    } {
        _, err := ParseFunction(src)
        require.Error(t, err, src)
    }
}

func TestParsePhysReg(t *testing.T) {
    r, err := ParsePhysReg("$v[4:7]")
    require.NoError(t, err)
    require.Equal(t, FileVector, r.File())
    require.Equal(t, 4, r.Num())
    require.Equal(t, 4, r.Width())
    require.Equal(t, "$v[4:7]", r.String())
    require.Equal(t, Phys(FileVector, 6, 1), r.Sub(3))
    w, err := ParsePhysReg("$w1")
    require.NoError(t, err)
    require.True(t, w.Overlaps(Phys(FileVector, WWMBase + 1, 1)))
    require.False(t, w.Overlaps(Phys(FileVector, 1, 1)))
    _, err = ParsePhysReg("$q3")
    require.Error(t, err)
}

func TestLiveness_Loop(t *testing.T) {
    fn, err := ParseFunction(_LoopSource)
    require.NoError(t, err)
    lv := fn.Liveness()
    b0, b1, b2 := fn.Blocks[0], fn.Blocks[1], fn.Blocks[2]
    require.True(t, fn.IsClean())
    require.True(t, lv.IsLiveOut(b0, Virt(0)))
    require.True(t, lv.IsLiveIn(b1, Virt(0)))
    require.True(t, lv.IsLiveOut(b1, Virt(0)))
    require.True(t, lv.IsLiveIn(b2, Virt(2)))
    require.False(t, lv.IsLiveIn(b1, Virt(1)))
    require.False(t, lv.IsLiveOut(b2, Virt(0)))
    require.Equal(t, 1, fn.Loops().Depth(b1))
    require.Equal(t, 0, fn.Loops().Depth(b2))
    require.True(t, fn.Loops().Dominates(b0, b2))
    require.False(t, fn.Loops().Dominates(b2, b1))
    fn.Invalidate()
    require.False(t, fn.IsClean())
}

func TestIntervals_StraightLine(t *testing.T) {
    fn, err := ParseFunction(`func @f {
  %0 : sreg_32
  %1 : sreg_32
  %2 : sreg_32
bb.0:
  %0 = S_MOV_B32 1
  %1 = S_MOV_B32 2
  %2 = S_ADD_U32 %0, %1, implicit-def dead $scc
  S_ENDPGM
}
`)
    require.NoError(t, err)
    ivs := fn.Intervals()
    i0, i1, i2 := ivs.Get(Virt(0)), ivs.Get(Virt(1)), ivs.Get(Virt(2))
    require.Equal(t, []Segment {{ 1, 5 }}, i0.Segs)
    require.Equal(t, []Segment {{ 3, 5 }}, i1.Segs)
    require.Equal(t, []Segment {{ 5, 6 }}, i2.Segs)
    require.True(t, i0.Overlaps(i1))
    require.False(t, i0.Overlaps(i2))
    require.InDelta(t, 0.5, i0.Weight, 1e-9)
    require.False(t, i1.Spillable())
    require.True(t, i0.Covers(4))
    require.False(t, i0.Covers(5))
}

func TestVerify_AllocatedFile(t *testing.T) {
    fn, err := ParseFunction(`func @f {
  %0 : sreg_32
bb.0:
  %0 = S_MOV_B32 1
  S_ENDPGM
}
`)
    require.NoError(t, err)
    require.NoError(t, Verify(fn))
    fn.MarkAllocated(FileScalar)
    require.Error(t, Verify(fn))
    require.Equal(t, []Reg { Virt(0) }, RemainingVRegs(fn, FileScalar))
}

func TestVirtRegMap_CrossFile(t *testing.T) {
    fn := NewFunction("f")
    s := fn.NewVReg(SReg32)
    v := fn.NewVReg(VGPR32)
    w := fn.NewVRegWithFlags(VGPR32, FlagWWM)
    vrm := fn.RegMap()
    vrm.Assign(s, Phys(FileScalar, 3, 1))
    vrm.Assign(w, Phys(FileWholeWave, 0, 1))
    require.Panics(t, func() { vrm.Assign(v, Phys(FileScalar, 4, 1)) })
    require.Panics(t, func() { vrm.Assign(v, Phys(FileWholeWave, 1, 1)) })
    require.Panics(t, func() { vrm.Assign(v, Phys(FileVector, 0, 2)) })
    require.Panics(t, func() { fn.Constrain(s, VGPR32) })
}
