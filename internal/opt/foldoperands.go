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

const (
    _MinInlineImm = -16
    _MaxInlineImm = 64
)

// FoldOperands folds single-use move-immediates into the users accepting an
// immediate at that position, and single-use scalar adds of a base and an
// immediate into the offset of the scratch accesses using them.
type FoldOperands struct{}

func (FoldOperands) Apply(fn *mir.Function) {
    ud := useDefOf(fn)
    rm := false

    /* find the foldable definitions */
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            if ins := bb.Ins[i]; foldImmediate(fn, ud, ins) || foldAddress(ud, ins) {
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

func isMoveImm(ins *mir.Instr) bool {
    switch ins.Op {
        case mir.S_MOV_B32, mir.V_MOV_B32_e32 : return len(ins.Args) >= 2 && ins.Args[0].IsVirtual() && ins.Args[1].IsImm()
        default                               : return false
    }
}

func acceptsImm(ins *mir.Instr, i int, v int64) bool {
    if ins.Info().Imm & (1 << i) == 0 {
        return false
    } else if ins.Is(mir.F_VOP3) {
        return v >= _MinInlineImm && v <= _MaxInlineImm
    } else {
        return true
    }
}

func foldImmediate(fn *mir.Function, ud *_UseDef, ins *mir.Instr) bool {
    if !isMoveImm(ins) {
        return false
    }

    /* the register must be defined here, and used exactly once */
    reg := ins.Args[0].Reg
    use := ud.singleUse(reg)
    if use == nil || ud.singleDef(reg) != ins || ins.Args[0].IsPartial() {
        return false
    }

    /* find the operand position */
    for i, p := range use.Uses() {
        if p.IsReg() && p.Reg == reg {
            if p.IsPartial() || !acceptsImm(use, i, ins.Args[1].Imm) {
                return false
            }
            *p = mir.Imm(ins.Args[1].Imm)
            delete(ud.uses, reg)
            return true
        }
    }

    /* only used implicitly */
    return false
}

func foldAddress(ud *_UseDef, ins *mir.Instr) bool {
    if ins.Op != mir.S_ADD_U32 || len(ins.Args) < 3 || !ins.Args[0].IsVirtual() {
        return false
    }

    /* base + immediate */
    base, imm := ins.Args[1], ins.Args[2]
    if !base.IsReg() || !imm.IsImm() || !physDeadAfter(ins, mir.SCC) {
        return false
    }

    /* the only user must address scratch memory through it */
    reg := ins.Args[0].Reg
    use := ud.singleUse(reg)
    if use == nil || ud.singleDef(reg) != ins || !isScratchAccess(use) {
        return false
    }

    /* the sum must only be the base */
    addr := use.MemBase()
    if addr == nil || addr.Reg != reg || addr.IsPartial() || use.StoreData() != nil && use.StoreData().Reg == reg {
        return false
    }

    /* the base must not be redefined in between */
    if use.Block != ins.Block || !baseAvailable(ins, use, base) {
        return false
    }

    /* rewrite the access */
    addr.Reg, addr.Sub = base.Reg, base.Sub
    addr.SetFlag(mir.OpKill, false)
    use.MemOffset().Imm += imm.Imm
    delete(ud.uses, reg)
    return true
}

func baseAvailable(ins *mir.Instr, use *mir.Instr, base mir.Operand) bool {
    bb := ins.Block
    ib := bb.IndexOf(ins)
    iu := bb.IndexOf(use)

    /* virtual registers are defined once before regalloc */
    if iu < ib {
        return false
    } else if base.Reg.IsVirtual() {
        return true
    }

    /* physical registers must be untouched */
    for _, p := range bb.Ins[ib + 1:iu] {
        if p.WritesReg(base.PhysReg()) {
            return false
        }
    }
    return true
}

func isScratchAccess(ins *mir.Instr) bool {
    switch ins.Op {
        case mir.S_SCRATCH_LOAD_DWORD  : return true
        case mir.S_SCRATCH_STORE_DWORD : return true
        case mir.SCRATCH_LOAD_DWORD    : return true
        case mir.SCRATCH_STORE_DWORD   : return true
        default                        : return false
    }
}
