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
    `fmt`

    `github.com/cloudwego/wavegen/internal/mir`
)

// VirtRegRewriter replaces the virtual registers of a file with their
// assigned physical registers, and drops the copies that became identities.
type VirtRegRewriter struct {
    File RegisterFile
}

func (self VirtRegRewriter) Apply(fn *mir.Function) {
    vrm := fn.RegMap()
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            ins := bb.Ins[i]

            /* rewrite the operands */
            ins.ForEachReg(func(p *mir.Operand) {
                if p.Reg.IsVirtual() && Classify(fn, p.Reg) == self.File {
                    if r := vrm.Phys(p.Reg); r == mir.NoReg {
                        panic(fmt.Sprintf("regalloc: %s register %s is not assigned in %s", self.File, p.Reg, mir.PrintInstr(ins)))
                    } else {
                        p.Reg, p.Sub = r.Sub(p.Sub), 0
                    }
                }
            })

            /* identity copies */
            if isIdentityCopy(ins) {
                bb.RemoveAt(i)
                i--
            }
        }
    }

    /* no register of this file may remain */
    fn.MarkAllocated(self.File.File())
    fn.Invalidate()
    checkAllocated(fn, self.File)
}

func isIdentityCopy(ins *mir.Instr) bool {
    if !ins.IsCopy() || len(ins.Args) < 2 {
        return false
    }
    dst, src := &ins.Args[0], &ins.Args[1]
    return dst.Reg.IsPhysical() && src.IsReg() && src.Reg.IsPhysical() && dst.PhysReg() == src.PhysReg()
}

func checkAllocated(fn *mir.Function, file RegisterFile) {
    fn.ForEachInstr(func(bb *mir.Block, ins *mir.Instr) {
        ins.ForEachReg(func(p *mir.Operand) {
            if p.Reg.IsVirtual() && Classify(fn, p.Reg) == file {
                panic(fmt.Sprintf("regalloc: %s register %s remains in %s after allocation", file, p.Reg, bb))
            }
        })
    })
}
