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

// FixSGPRCopies decides the bank of every register whose bank is still
// unknown, and legalizes copies and scalar instructions reading vector
// registers with V_READFIRSTLANE_B32.
type FixSGPRCopies struct{}

func (FixSGPRCopies) Apply(fn *mir.Function) {
    changed := resolveBanks(fn)

    /* legalize the vector to scalar transfers */
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            if ins := bb.Ins[i]; ins.Op == mir.COPY {
                if legalizeCopy(fn, ins) {
                    changed = true
                }
            } else if ins.Is(mir.F_SALU | mir.F_SMEM) {
                if n := legalizeScalarUses(fn, ins); n != 0 {
                    changed = true
                    i += n
                }
            }
        }
    }

    /* banks are known from now on */
    fn.MarkBanksResolved()
    if changed {
        fn.Invalidate()
    }
}

func resolveBanks(fn *mir.Function) bool {
    vec := make(map[mir.Reg]bool)
    unk := make(map[mir.Reg]bool)

    /* find the registers with unknown banks */
    for i, v := range fn.VRegs {
        if v.Class.Bank() == mir.FileUnknown {
            unk[mir.Virt(i)] = true
        }
    }

    /* nothing to resolve */
    if len(unk) == 0 {
        return false
    }

    /* any user requiring a vector operand decides the bank */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        for i := range ins.Args {
            if p := &ins.Args[i]; p.IsReg() && unk[p.Reg] && needsVector(fn, ins, p) {
                vec[p.Reg] = true
            }
        }
    })

    /* narrow the classes */
    for r := range unk {
        if vec[r] {
            fn.Constrain(r, mir.VGPR32)
        } else {
            fn.Constrain(r, mir.SReg32)
        }
    }
    return true
}

func needsVector(fn *mir.Function, ins *mir.Instr, p *mir.Operand) bool {
    switch {
        case ins.Is(mir.F_VMEM)                 : return true
        case ins.Is(mir.F_DPP)                  : return true
        case !ins.Is(mir.F_VALU)                : return false
        case p.IsDef()                          : return ins.Op != mir.V_READFIRSTLANE_B32 && !isMaskDef(ins)
        case ins.Op == mir.V_READFIRSTLANE_B32  : return true
        case ins.Is(mir.F_VOP3)                 : return false
        default                                 : return ins.UseAt(1) == p
    }
}

func isMaskDef(ins *mir.Instr) bool {
    return ins.Op == mir.V_CMP_LT_I32_e64
}

func isScalar(fn *mir.Function, p *mir.Operand) bool {
    return p.IsReg() && fn.FileOf(p.Reg) == mir.FileScalar
}

func legalizeCopy(fn *mir.Function, ins *mir.Instr) bool {
    dst, src := &ins.Args[0], &ins.Args[1]
    if !isScalar(fn, dst) || !isVectorReg(fn, src) {
        return false
    }

    /* a single lane read per 32-bit part */
    n := 1
    if dst.Sub == 0 && dst.Reg.IsVirtual() {
        n = fn.ClassOf(dst.Reg).Width()
    }

    /* single register copies */
    if n == 1 {
        ins.Op = mir.V_READFIRSTLANE_B32
        ins.Args = []mir.Operand { *dst, *src, mir.ImplicitUse(mir.EXEC) }
        return true
    }

    /* wide copies are split into parts */
    buf := make([]*mir.Instr, n)
    for k := 0; k < n; k++ {
        d := mir.SubDef(dst.Reg, uint8(k + 1))
        s := mir.SubUse(src.Reg, uint8(k + 1))
        d.SetFlag(mir.OpUndef, k == 0)
        buf[k] = mir.NewInstr(mir.V_READFIRSTLANE_B32, d, s, mir.ImplicitUse(mir.EXEC))
    }

    /* replace the copy */
    ins.Block.Replace(ins, buf...)
    return true
}

func legalizeScalarUses(fn *mir.Function, ins *mir.Instr) int {
    var buf []*mir.Instr
    for _, p := range ins.Uses() {
        if isVectorReg(fn, p) && p.Reg.IsVirtual() && (p.Sub != 0 || fn.ClassOf(p.Reg).Width() == 1) {
            tmp := fn.NewVReg(mir.SReg32)
            buf = append(buf, mir.NewInstr(mir.V_READFIRSTLANE_B32, mir.Def(tmp), mir.SubUse(p.Reg, p.Sub), mir.ImplicitUse(mir.EXEC)))
            p.Reg, p.Sub = tmp, 0
            p.SetFlag(mir.OpKill, true)
        }
    }

    /* insert the lane reads before the instruction */
    if len(buf) != 0 {
        ins.Block.InsertBefore(ins, buf...)
    }
    return len(buf)
}
