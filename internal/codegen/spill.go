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

// IsSpill reports whether the instruction is a spill pseudo.
func IsSpill(ins *mir.Instr) bool {
    switch ins.Op {
        case mir.SI_SPILL_S_SAVE, mir.SI_SPILL_S_RESTORE : return true
        case mir.SI_SPILL_V_SAVE, mir.SI_SPILL_V_RESTORE : return true
        default                                          : return false
    }
}

// SpillSlotOf returns the spill slot accessed by a spill pseudo.
func SpillSlotOf(ins *mir.Instr) int {
    for _, p := range ins.Args {
        if p.Kind == mir.KindSlot {
            return p.Slot
        }
    }
    panic("codegen: spill without a slot: " + mir.PrintInstr(ins))
}

// LowerSpill expands an allocated spill pseudo into scratch accesses
// relative to the stack pointer, one per 32-bit part. Vector and whole-wave
// registers are accessed with every lane enabled, so that inactive lanes
// keep their values.
func LowerSpill(fn *mir.Function, ins *mir.Instr) []*mir.Instr {
    var buf []*mir.Instr
    sp := fn.Info.StackPtr
    ss := fn.Frame.Slot(SpillSlotOf(ins))

    /* the slot must be laid out, the register allocated */
    if ss.Offset < 0 {
        panic(fmt.Sprintf("codegen: spill slot %d has no offset", ss.Id))
    } else if sp == mir.NoReg {
        panic("codegen: lowering spills without a stack pointer")
    }

    /* the spilled register */
    val := ins.Args[0]
    reg := val.PhysReg()

    /* one access per part */
    for k := 0; k < reg.Width(); k++ {
        off := mir.Imm(int64(ss.Offset + k * 4))
        sub := reg
        if reg.Width() != 1 {
            sub = reg.Sub(uint8(k + 1))
        }

        /* select the access */
        switch ins.Op {
            case mir.SI_SPILL_S_SAVE    : buf = append(buf, mir.NewInstr(mir.S_SCRATCH_STORE_DWORD, mir.Use(sub), mir.Use(sp), off))
            case mir.SI_SPILL_S_RESTORE : buf = append(buf, mir.NewInstr(mir.S_SCRATCH_LOAD_DWORD, mir.Def(sub), mir.Use(sp), off))
            case mir.SI_SPILL_V_SAVE    : buf = append(buf, mir.NewInstr(mir.SCRATCH_STORE_DWORD, mir.Use(sub), mir.Use(sp), off))
            case mir.SI_SPILL_V_RESTORE : buf = append(buf, mir.NewInstr(mir.SCRATCH_LOAD_DWORD, mir.Def(sub), mir.Use(sp), off))
            default                     : panic("codegen: not a spill: " + mir.PrintInstr(ins))
        }
    }

    /* the last-use mark goes to the final load */
    buf[len(buf) - 1].Flags = ins.Flags

    /* vector registers need every lane */
    if f := reg.File(); f == mir.FileVector || f == mir.FileWholeWave {
        buf = WrapWholeWave(fn, buf)
    }
    return buf
}

// WrapWholeWave encloses the instructions in a sequence enabling every lane,
// saving exec in the exec-copy register.
func WrapWholeWave(fn *mir.Function, ins []*mir.Instr) []*mir.Instr {
    sv := fn.Info.ExecCopy
    if sv == mir.NoReg {
        panic("codegen: no exec-copy register")
    }

    /* save exec and enable all lanes */
    scc := mir.ImplicitDef(mir.SCC)
    scc.SetFlag(mir.OpDead, true)
    enter := mir.NewInstr(mir.S_OR_SAVEEXEC_B64, mir.Def(sv), mir.Imm(-1), scc)
    leave := mir.NewInstr(mir.S_MOV_B64, mir.Def(mir.EXEC), mir.Use(sv))

    /* build the sequence */
    ret := make([]*mir.Instr, 0, len(ins) + 2)
    ret  = append(ret, enter)
    ret  = append(ret, ins...)
    return append(ret, leave)
}
