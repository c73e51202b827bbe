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
    `github.com/cloudwego/wavegen/internal/mir`
)

// RenameIndependentSubregs splits the wide virtual registers that are never
// accessed as a whole into one 32-bit register per part.
type RenameIndependentSubregs struct{}

func (RenameIndependentSubregs) Apply(fn *mir.Function) {
    whole := make(map[mir.Reg]bool)
    parts := make(map[mir.Reg]uint32)

    /* collect the accessed parts */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachReg(func(p *mir.Operand) {
            if !p.Reg.IsVirtual() {
                return
            } else if p.Sub == 0 {
                whole[p.Reg] = true
            } else {
                parts[p.Reg] |= 1 << (p.Sub - 1)
            }
        })
    })

    /* create the part registers */
    rn := make(map[mir.Reg][]mir.Reg)
    for i := range fn.VRegs {
        r := mir.Virt(i)
        m := parts[r]
        v := fn.VRegs[i]

        /* a single part is left for the partial use rewriter */
        if whole[r] || m & (m - 1) == 0 {
            continue
        }

        /* one register per part */
        nr := make([]mir.Reg, v.Class.Width())
        for k := range nr {
            if m & (1 << k) != 0 {
                nr[k] = fn.NewVRegWithFlags(mir.ClassOf(v.Class.Bank(), 1), v.Flags)
            }
        }
        rn[r] = nr
    }

    /* nothing to rename */
    if len(rn) == 0 {
        return
    }

    /* rewrite the operands */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachReg(func(p *mir.Operand) {
            if nr, ok := rn[p.Reg]; ok {
                p.Reg, p.Sub = nr[p.Sub - 1], 0
                p.SetFlag(mir.OpUndef, false)
            }
        })
    })

    /* the register set changed */
    fn.Invalidate()
}
