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

package regalloc

import (
    `sort`

    `github.com/cloudwego/wavegen/internal/mir`
)

// PreAllocateWWMRegs moves the vector registers defined in strict
// whole-wave sections to the whole-wave file.
type PreAllocateWWMRegs struct{}

func (PreAllocateWWMRegs) Apply(fn *mir.Function) {
    for _, bb := range fn.Blocks {
        depth := 0
        for _, ins := range bb.Ins {
            switch ins.Op {
                case mir.ENTER_STRICT_WWM : depth++
                case mir.EXIT_STRICT_WWM  : depth--
            }

            /* flag the vector defs inside the section */
            if depth > 0 {
                ins.ForEachDef(func(p *mir.Operand) {
                    if p.Reg.IsVirtual() && fn.ClassOf(p.Reg).IsVector() {
                        fn.SetFlags(p.Reg, mir.FlagWWM)
                    }
                })
            }
        }
    }
}

// LowerWWMCopies turns the whole-wave result copies into plain copies once
// the whole-wave registers are assigned.
type LowerWWMCopies struct{}

func (LowerWWMCopies) Apply(fn *mir.Function) {
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        if ins.Op == mir.WWM_COPY {
            ins.Op = mir.COPY
        }
    })
}

// ReserveWWMRegs records the whole-wave registers in use. They alias the
// top of the vector file and are unavailable to the vector allocator.
type ReserveWWMRegs struct{}

func (ReserveWWMRegs) Apply(fn *mir.Function) {
    seen := make(map[mir.Reg]bool)
    for _, r := range fn.Info.WWMRegs {
        seen[r] = true
    }

    /* collect the whole-wave registers */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachReg(func(p *mir.Operand) {
            if p.Reg.IsPhysical() && p.Reg.File() == mir.FileWholeWave {
                for _, u := range p.PhysReg().Units() {
                    seen[mir.Phys(mir.FileWholeWave, u.Num - mir.WWMBase, 1)] = true
                }
            }
        })
    })

    /* sort by register number */
    regs := make([]mir.Reg, 0, len(seen))
    for r := range seen {
        regs = append(regs, r)
    }
    sort.Slice(regs, func(i int, j int) bool { return regs[i].Num() < regs[j].Num() })
    fn.Info.WWMRegs = regs
}
