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

// RewritePartialRegUses replaces the wide virtual registers only ever
// accessed through one 32-bit part by a 32-bit register.
type RewritePartialRegUses struct{}

func (RewritePartialRegUses) Apply(fn *mir.Function) {
    bad := make(map[mir.Reg]bool)
    sub := make(map[mir.Reg]uint8)

    /* find the single sub-register of every register */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachReg(func(p *mir.Operand) {
            if !p.Reg.IsVirtual() {
                return
            } else if s, ok := sub[p.Reg]; p.Sub == 0 || ok && s != p.Sub {
                bad[p.Reg] = true
            } else {
                sub[p.Reg] = p.Sub
            }
        })
    })

    /* create the narrow registers in index order */
    nr := make(map[mir.Reg]mir.Reg)
    for i := range fn.VRegs {
        r := mir.Virt(i)
        s := sub[r]
        rc := fn.VRegs[i].Class

        /* only wide registers accessed through one part */
        if s != 0 && !bad[r] && rc.Width() > 1 {
            nr[r] = fn.NewVRegWithFlags(mir.ClassOf(rc.Bank(), 1), fn.VRegs[i].Flags)
        }
    }

    /* nothing to rewrite */
    if len(nr) == 0 {
        return
    }

    /* rewrite the operands */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachReg(func(p *mir.Operand) {
            if r, ok := nr[p.Reg]; ok {
                p.Reg, p.Sub = r, 0
                p.SetFlag(mir.OpUndef, false)
            }
        })
    })

    /* the register set changed */
    fn.Invalidate()
}
