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

package codegen

import (
    `fmt`

    `github.com/cloudwego/wavegen/internal/mir`
)

// ExpandPostRAPseudos lowers the pseudo instructions left after register
// allocation into real instructions.
type ExpandPostRAPseudos struct{}

func (ExpandPostRAPseudos) Apply(fn *mir.Function) {
    ok := false
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            ins := bb.Ins[i]
            buf, hit := expandPseudo(fn, ins)

            /* not a pseudo we know */
            if !hit {
                continue
            }

            /* replace the instruction */
            ok = true
            bb.Replace(ins, buf...)
            i += len(buf) - 1
        }
    }

    /* the instruction list changed */
    if ok {
        fn.Invalidate()
    }
}

func expandPseudo(fn *mir.Function, ins *mir.Instr) ([]*mir.Instr, bool) {
    switch ins.Op {
        case mir.COPY, mir.WWM_COPY     : return expandCopy(ins), true
        case mir.IMPLICIT_DEF           : return nil, true
        case mir.ENTER_STRICT_WWM       : return expandEnterWWM(ins), true
        case mir.EXIT_STRICT_WWM        : return expandExitWWM(ins), true
        case mir.V_SET_INACTIVE_B32     : return expandSetInactive(ins), true
        case mir.SI_SPILL_S_SAVE        : return LowerSpill(fn, ins), true
        case mir.SI_SPILL_S_RESTORE     : return LowerSpill(fn, ins), true
        case mir.SI_SPILL_V_SAVE        : return LowerSpill(fn, ins), true
        case mir.SI_SPILL_V_RESTORE     : return LowerSpill(fn, ins), true
        default                         : return nil, false
    }
}

func expandCopy(ins *mir.Instr) []*mir.Instr {
    dst, src := &ins.Args[0], &ins.Args[1]
    if !dst.Reg.IsPhysical() || !src.Reg.IsPhysical() {
        panic(fmt.Sprintf("codegen: copy of a virtual register after allocation: %s", mir.PrintInstr(ins)))
    }

    /* identity copies disappear */
    d, s := dst.PhysReg(), src.PhysReg()
    if d == s {
        return nil
    }

    /* 64-bit scalar copies, masks included */
    if d.Width() == 2 && isScalarLike(d) && isScalarLike(s) {
        return []*mir.Instr { mir.NewInstr(mir.S_MOV_B64, mir.Def(d), mir.Use(s)) }
    }

    /* copy the parts, backwards if the destination overlaps the later parts */
    n := d.Width()
    buf := make([]*mir.Instr, n)
    rev := d.File() == s.File() && d.Num() > s.Num() && d.Overlaps(s)

    /* one move per part */
    for k := 0; k < n; k++ {
        i := k
        if rev {
            i = n - 1 - k
        }
        buf[k] = movePart(d, s, i)
    }
    return buf
}

func isScalarLike(r mir.Reg) bool {
    return r.File() == mir.FileScalar || r.File() == mir.FileSpecial
}

func partOf(r mir.Reg, i int) mir.Reg {
    if r.Width() == 1 {
        return r
    } else {
        return r.Sub(uint8(i + 1))
    }
}

func movePart(d mir.Reg, s mir.Reg, i int) *mir.Instr {
    dp := partOf(d, i)
    sp := partOf(s, i)
    ex := mir.ImplicitUse(mir.EXEC)

    /* select the move */
    switch {
        case isScalarLike(d) && isScalarLike(s) : return mir.NewInstr(mir.S_MOV_B32, mir.Def(dp), mir.Use(sp))
        case isScalarLike(d)                    : return mir.NewInstr(mir.V_READFIRSTLANE_B32, mir.Def(dp), mir.Use(sp), ex)
        default                                 : return mir.NewInstr(mir.V_MOV_B32_e32, mir.Def(dp), mir.Use(sp), ex)
    }
}

func expandEnterWWM(ins *mir.Instr) []*mir.Instr {
    scc := mir.ImplicitDef(mir.SCC)
    scc.SetFlag(mir.OpDead, true)
    return []*mir.Instr { mir.NewInstr(mir.S_OR_SAVEEXEC_B64, ins.Args[0], mir.Imm(-1), scc) }
}

func expandExitWWM(ins *mir.Instr) []*mir.Instr {
    return []*mir.Instr { mir.NewInstr(mir.S_MOV_B64, mir.Def(mir.EXEC), ins.Args[0]) }
}

func expandSetInactive(ins *mir.Instr) []*mir.Instr {
    dst := ins.Args[0]
    act := *ins.UseAt(0)
    ina := *ins.UseAt(1)

    /* invert exec twice around the inactive lanes write */
    scc := mir.ImplicitDef(mir.SCC)
    scc.SetFlag(mir.OpDead, true)
    inv := func() *mir.Instr { return mir.NewInstr(mir.S_XOR_B64, mir.Def(mir.EXEC), mir.Use(mir.EXEC), mir.Imm(-1), scc) }

    /* build the sequence */
    return []*mir.Instr {
        mir.NewInstr(mir.V_MOV_B32_e32, dst, act, mir.ImplicitUse(mir.EXEC)),
        inv(),
        mir.NewInstr(mir.V_MOV_B32_e32, dst, ina, mir.ImplicitUse(mir.EXEC)),
        inv(),
    }
}
