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
    `github.com/cloudwego/wavegen/internal/mir`
)

// DPPCombine merges a DPP move into its single VALU user, if the user has a
// DPP form and reads the moved value as its first source.
type DPPCombine struct{}

func (DPPCombine) Apply(fn *mir.Function) {
    ud := useDefOf(fn)
    rm := false

    /* find the combinable moves */
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            if combineDPP(ud, bb.Ins[i]) {
                bb.RemoveAt(i)
                rm = true
                i--
            }
        }
    }

    /* instructions were removed */
    if rm {
        fn.Invalidate()
    }
}

func combineDPP(ud *_UseDef, mov *mir.Instr) bool {
    if mov.Op != mir.V_MOV_B32_dpp || !mov.Args[0].IsVirtual() || mov.Args[0].IsPartial() {
        return false
    }

    /* single def, single use in the same block */
    reg := mov.Args[0].Reg
    use := ud.singleUse(reg)
    if use == nil || use.Block != mov.Block || ud.singleDef(reg) != mov {
        return false
    }

    /* the user must have a DPP form, and read the value as src0 only */
    if use.Info().DPP == 0 || use.UseAt(0) == nil || use.UseAt(0).Reg != reg || use.UseAt(0).IsPartial() {
        return false
    }
    for i, p := range use.Uses() {
        if i != 0 && p.IsReg() && p.Reg == reg {
            return false
        }
    }

    /* the DPP source must not be redefined before the user */
    if !sourcesLive(mov, use) {
        return false
    }

    /* build the combined instruction: defs, DPP source, other sources, control */
    src := mov.UseAt(0)
    ctl := mov.UseAt(1)
    buf := []mir.Operand { *use.Def(), *src }
    for _, p := range use.Uses()[1:] {
        buf = append(buf, *p)
    }

    /* the DPP control word goes last */
    if ctl != nil {
        buf = append(buf, *ctl)
    }

    /* rewrite the user */
    use.Op = use.Info().DPP
    use.Args = append(buf, implicitOf(use)...)
    delete(ud.uses, reg)
    return true
}

func sourcesLive(mov *mir.Instr, use *mir.Instr) bool {
    src := mov.UseAt(0)
    bb  := mov.Block
    i0  := bb.IndexOf(mov)
    i1  := bb.IndexOf(use)

    /* check for intervening writes */
    if i1 < i0 {
        return false
    }
    for _, ins := range bb.Ins[i0 + 1:i1] {
        if ins.WritesExec() {
            return false
        }
        for _, p := range ins.Defs() {
            if p.IsReg() && p.Reg == src.Reg {
                return false
            }
        }
    }
    return true
}

func implicitOf(ins *mir.Instr) []mir.Operand {
    var ret []mir.Operand
    for _, p := range ins.Args {
        if p.IsImplicit() {
            ret = append(ret, p)
        }
    }
    return ret
}
