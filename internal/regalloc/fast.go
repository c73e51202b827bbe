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

    `github.com/bits-and-blooms/bitset`

    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/target`
)

// _Fast keeps every value living across blocks in its spill slot, and
// assigns the block-local values in a single linear scan.
type _Fast struct {
    desc *target.Desc
    file RegisterFile
}

func newFast(desc *target.Desc, file RegisterFile) Allocator {
    return &_Fast { desc: desc, file: file }
}

func (self *_Fast) Allocate(fn *mir.Function) {
    var spill []mir.Reg
    var local []mir.Reg

    /* the registers of this file */
    regs := vregsOf(fn, self.file)
    if len(regs) == 0 {
        return
    }

    /* values crossing the block boundaries go to memory */
    cross := crossingRegs(fn)
    for _, r := range regs {
        if cross[r] {
            spill = append(spill, r)
        } else {
            local = append(local, r)
        }
    }

    /* spill them first */
    sp := NewSpiller(self.desc, self.file, fn)
    sp.Spill(spill)

    /* scan the local values in program order */
    ctx := newContext(self.desc, self.file, fn)
    ctx.rebuild()
    sort.SliceStable(local, func(i int, j int) bool { return start(ctx.interval(local[i])) < start(ctx.interval(local[j])) })

    /* assign each one, or send it to memory */
    spill = spill[:0]
    for _, r := range local {
        if !ctx.tryAssign(r) {
            spill = append(spill, r)
        }
    }

    /* spill the rest */
    sp.Spill(spill)
}

func start(iv *mir.Interval) int {
    if iv.Empty() {
        return -1
    } else {
        return iv.Start()
    }
}

// crossingRegs finds the virtual registers live across a block boundary,
// or referenced by more than one block.
func crossingRegs(fn *mir.Function) map[mir.Reg]bool {
    lv := fn.Liveness()
    ret := make(map[mir.Reg]bool)
    home := make(map[mir.Reg]*mir.Block)

    /* registers referenced by several blocks */
    fn.ForEachInstr(func(bb *mir.Block, ins *mir.Instr) {
        ins.ForEachReg(func(p *mir.Operand) {
            if r := p.Reg; r.IsVirtual() {
                if b, ok := home[r]; !ok {
                    home[r] = bb
                } else if b != bb {
                    ret[r] = true
                }
            }
        })
    })

    /* registers live at a block boundary */
    for _, bb := range fn.Blocks {
        for _, set := range []*bitset.BitSet { lv.LiveIn(bb), lv.LiveOut(bb) } {
            for k, ok := set.NextSet(0); ok; k, ok = set.NextSet(k + 1) {
                if r, virt := mir.KeyReg(k); virt {
                    ret[r] = true
                }
            }
        }
    }
    return ret
}
