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

package target

import (
    `testing`

    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/stretchr/testify/require`
)

func TestDesc_Layout(t *testing.T) {
    d := GFX9()
    require.NoError(t, d.Validate())
    require.Len(t, d.Allocatable(mir.FileScalar), d.SGPRs)
    for _, f := range mir.AllocOrder {
        sc := d.SpillScratch(f)
        require.NotEmpty(t, sc)
        for _, r := range d.Allocatable(f) {
            for _, v := range sc {
                require.False(t, r.Overlaps(v), "%s overlaps %s", r, v)
            }
        }
    }
    for _, r := range d.SpillScratch(mir.FileScalar) {
        require.False(t, r.Overlaps(d.StackPtr()))
        require.False(t, r.Overlaps(d.ExecCopy()))
        require.False(t, r.Overlaps(d.LongBranchReg()))
    }
    require.Equal(t, mir.Phys(mir.FileScalar, d.SGPRs, 1), d.SpillScratch(mir.FileScalar)[0])
    for _, r := range d.Allocatable(mir.FileScalar) {
        require.False(t, r.Overlaps(d.StackPtr()))
        require.False(t, r.Overlaps(d.ExecCopy()))
        require.False(t, r.Overlaps(d.LongBranchReg()))
    }
    for _, r := range d.Allocatable(mir.FileVector) {
        require.False(t, r.Overlaps(mir.Phys(mir.FileWholeWave, 0, mir.MaxWWMRegs)))
    }
}

func TestDesc_Validate(t *testing.T) {
    d := GFX9()
    d.SGPRs = 0
    require.NoError(t, d.Validate())
    d.SGPRs = 3
    require.Error(t, d.Validate())
    d.SGPRs = 100
    require.Error(t, d.Validate())
}

func TestHazards_VALUWriteSGPR(t *testing.T) {
    d := GFX9()
    s4 := mir.Phys(mir.FileScalar, 4, 1)
    v0 := mir.Phys(mir.FileVector, 0, 2)
    v2 := mir.Phys(mir.FileVector, 2, 1)
    prod := mir.NewInstr(mir.V_READFIRSTLANE_B32, mir.Def(s4), mir.Use(v2))
    cons := mir.NewInstr(mir.GLOBAL_LOAD_DWORD, mir.Def(v2), mir.Use(v0), mir.Imm(0), mir.ImplicitUse(s4))
    other := mir.NewInstr(mir.GLOBAL_LOAD_DWORD, mir.Def(v2), mir.Use(v0), mir.Imm(0))
    h := d.Hazards[0]
    require.True(t, h.Producer(prod))
    require.True(t, h.Consumer(prod, cons))
    require.False(t, h.Consumer(prod, other))
    require.Equal(t, 5, d.MaxWaits())
}

func TestHazards_VALUWriteDPP(t *testing.T) {
    d := GFX9()
    v0 := mir.Phys(mir.FileVector, 0, 1)
    v1 := mir.Phys(mir.FileVector, 1, 1)
    v3 := mir.Phys(mir.FileVector, 3, 1)
    w1 := mir.Phys(mir.FileWholeWave, 1, 1)
    h := d.Hazards[1]

    /* whole-wave registers are vector registers too */
    for _, r := range []mir.Reg { v1, w1 } {
        prod := mir.NewInstr(mir.V_ADD_U32_e32, mir.Def(r), mir.Use(v0), mir.Use(v0))
        cons := mir.NewInstr(mir.V_MOV_B32_dpp, mir.Def(v3), mir.Use(r))
        require.True(t, h.Producer(prod))
        require.True(t, h.Consumer(prod, cons), "%s", r)
        require.False(t, h.Consumer(prod, mir.NewInstr(mir.V_MOV_B32_dpp, mir.Def(v3), mir.Use(v0))))
    }
}
