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
    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/target`
    `github.com/cloudwego/wavegen/internal/utils`
    `github.com/pkg/errors`
)

// Spiller moves virtual registers to spill slots. Every reference of a
// spilled register goes through a fresh temporary assigned to one of the
// spill scratch registers of the file. Scratch registers that the function
// references as fixed registers are never used.
//
// The local registers produced by Split share the spill slot of the split
// register. Spilling one of them drops the reload and the store Split added
// for it, instead of moving the value between two slots.
type Spiller struct {
    fn      *mir.Function
    desc    *target.Desc
    file    RegisterFile
    scratch map[int]bool
    parent  map[mir.Reg]int
}

func NewSpiller(desc *target.Desc, file RegisterFile, fn *mir.Function) *Spiller {
    return &Spiller {
        fn     : fn,
        desc   : desc,
        file   : file,
        parent : make(map[mir.Reg]int),
    }
}

func (self *Spiller) ops() (mir.Op, mir.Op) {
    if self.file == Scalar {
        return mir.SI_SPILL_S_SAVE, mir.SI_SPILL_S_RESTORE
    } else {
        return mir.SI_SPILL_V_SAVE, mir.SI_SPILL_V_RESTORE
    }
}

func (self *Spiller) slotOf(r mir.Reg) int {
    vrm := self.fn.RegMap()
    if id := vrm.Slot(r); id >= 0 {
        return id
    }

    /* split products go back to the slot of their register */
    if id, ok := self.parent[r]; ok {
        vrm.AssignSlot(r, id)
        return id
    }

    /* create a new slot */
    n := self.fn.ClassOf(r).Width() * 4
    id := self.fn.Frame.CreateSpillSlot(n, 4, self.file.File())
    vrm.AssignSlot(r, id)
    return id
}

func saveOf(op mir.Op, r mir.Reg, slot int) *mir.Instr {
    val := mir.Use(r)
    val.SetFlag(mir.OpKill, true)
    return mir.NewInstr(op, val, mir.SlotRef(slot))
}

func restoreOf(op mir.Op, r mir.Reg, slot int) *mir.Instr {
    return mir.NewInstr(op, mir.Def(r), mir.SlotRef(slot))
}

// Spill assigns spill slots to the registers and rewrites every reference.
func (self *Spiller) Spill(regs []mir.Reg) {
    if len(regs) == 0 {
        return
    }

    /* assign the slots */
    reloads := 0
    slots := make(map[mir.Reg]int, len(regs))
    for _, r := range regs {
        slots[r] = self.slotOf(r)
    }

    /* the split reloads and stores become redundant */
    self.unsplit(slots)

    /* rewrite every instruction */
    for _, bb := range self.fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            pre, post := self.rewrite(bb.Ins[i], slots)
            bb.Insert(i, pre...)
            i += len(pre)
            bb.Insert(i + 1, post...)
            i += len(post)
            reloads += len(pre)
        }
    }

    /* update the statistics */
    countSpills(self.file, len(regs), reloads)
    self.fn.Invalidate()
}

func (self *Spiller) rewrite(ins *mir.Instr, slots map[mir.Reg]int) ([]*mir.Instr, []*mir.Instr) {
    var pre   []*mir.Instr
    var post  []*mir.Instr
    var order []mir.Reg

    /* replace the spilled registers with temporaries */
    reads := make(map[mir.Reg]bool)
    writes := make(map[mir.Reg]bool)
    temps := make(map[mir.Reg]mir.Reg)

    /* one temporary per spilled register */
    for i := range ins.Args {
        p := &ins.Args[i]
        r := p.Reg

        /* not a spilled register */
        if _, ok := slots[r]; !ok || !p.IsReg() {
            continue
        }

        /* allocate the temporary */
        if _, ok := temps[r]; !ok {
            vr := self.fn.VReg(r)
            temps[r] = self.fn.NewVRegWithFlags(vr.Class, vr.Flags | mir.FlagSpillTemp)
            order = append(order, r)
        }

        /* partial defs read the other lanes */
        if p.IsDef() {
            reads[r] = reads[r] || p.IsPartial()
            writes[r] = writes[r] || !p.IsDead()
        } else {
            reads[r] = reads[r] || !p.IsUndef()
            p.SetFlag(mir.OpKill, true)
        }

        /* replace the register */
        p.Reg = temps[r]
    }

    /* nothing spilled here */
    if len(order) == 0 {
        return nil, nil
    }

    /* defs of terminators cannot be saved */
    if ins.IsTerminator() && len(writes) != 0 {
        panic("regalloc: cannot spill the result of a terminator: " + mir.PrintInstr(ins))
    }

    /* pick the scratch registers */
    save, restore := self.ops()
    self.assignScratch(ins, temps, order)

    /* reload before, save after */
    for _, r := range order {
        if reads[r] {
            pre = append(pre, restoreOf(restore, temps[r], slots[r]))
        }
        if writes[r] {
            post = append(post, saveOf(save, temps[r], slots[r]))
        }
    }
    return pre, post
}

// unsplit removes the split reloads and stores of the spilled split products,
// their references are rewritten against the shared slot.
func (self *Spiller) unsplit(slots map[mir.Reg]int) {
    save, restore := self.ops()
    for _, bb := range self.fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            if self.isSplitCopy(bb.Ins[i], save, restore, slots) {
                bb.RemoveAt(i)
                i--
            }
        }
    }
}

func (self *Spiller) isSplitCopy(ins *mir.Instr, save mir.Op, restore mir.Op, slots map[mir.Reg]int) bool {
    if ins.Op != save && ins.Op != restore {
        return false
    }

    /* a spilled split product and the slot it was split through */
    r := ins.Args[0].Reg
    id, ok := self.parent[r]
    return ok && slots[r] == id && ins.Args[1].Kind == mir.KindSlot && ins.Args[1].Slot == id
}

// scratchRegs returns the numbers of the usable spill scratch registers.
func (self *Spiller) scratchRegs() map[int]bool {
    if self.scratch != nil {
        return self.scratch
    }

    /* units pinned by the function */
    f := self.file.File()
    used := make(map[mir.Unit]bool)
    self.fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachReg(func(p *mir.Operand) {
            if p.Reg.IsPhysical() && p.Reg.File() == f {
                for _, u := range p.PhysReg().Units() {
                    used[u] = true
                }
            }
        })
    })

    /* the remaining scratch registers */
    self.scratch = make(map[int]bool)
    for _, r := range self.desc.SpillScratch(f) {
        if !used[r.Units()[0]] && !self.fn.Info.IsReserved(r) {
            self.scratch[r.Num()] = true
        }
    }
    return self.scratch
}

func (self *Spiller) assignScratch(ins *mir.Instr, temps map[mir.Reg]mir.Reg, order []mir.Reg) {
    f := self.file.File()
    vrm := self.fn.RegMap()
    free := self.scratchRegs()
    taken := make(map[int]bool)

    /* pack the temporaries into free scratch registers */
    for _, r := range order {
        t := temps[r]
        w := self.fn.ClassOf(t).Width()
        a := self.desc.Alignment(f, w)
        n := findScratch(free, taken, w, a)

        /* out of scratch registers */
        if n < 0 {
            utils.Fatal(errors.Errorf("no free %s spill scratch registers for %s", self.file, mir.PrintInstr(ins)))
        }

        /* assign the scratch registers */
        vrm.Assign(t, mir.Phys(f, n, w))
        for i := n; i < n + w; i++ {
            taken[i] = true
        }
    }
}

func findScratch(free map[int]bool, taken map[int]bool, width int, align int) int {
    lo, hi := -1, -1
    for n := range free {
        if lo < 0 || n < lo { lo = n }
        if n > hi { hi = n }
    }

    /* first aligned run of free registers */
    for n := lo; lo >= 0 && n + width - 1 <= hi; n++ {
        ok := n % align == 0
        for i := n; ok && i < n + width; i++ {
            ok = free[i] && !taken[i]
        }
        if ok {
            return n
        }
    }
    return -1
}

// Split replaces r with one local register per block referencing it. The
// value crosses the block boundaries through the spill slot of r, and the
// local registers are returned for allocation.
func (self *Spiller) Split(r mir.Reg) []mir.Reg {
    var ret []mir.Reg
    vr := self.fn.VReg(r)
    slot := self.slotOf(r)
    save, restore := self.ops()

    /* split the register in every block */
    for _, bb := range self.fn.Blocks {
        first, last := -1, -1
        load := false

        /* find the first reference and the last def */
        for i, ins := range bb.Ins {
            refs, reads, writes := false, false, false
            for j := range ins.Args {
                if p := &ins.Args[j]; p.IsReg() && p.Reg == r {
                    refs = true
                    writes = writes || p.IsDef()
                    reads = reads || (p.IsUse() && !p.IsUndef()) || (p.IsDef() && p.IsPartial())
                }
            }
            if refs && first < 0 {
                first, load = i, reads
            }
            if writes {
                last = i
            }
        }

        /* not referenced */
        if first < 0 {
            continue
        }

        /* rename the references */
        local := self.fn.NewVRegWithFlags(vr.Class, vr.Flags)
        ret = append(ret, local)
        self.parent[local] = slot
        for _, ins := range bb.Ins {
            for j := range ins.Args {
                if p := &ins.Args[j]; p.IsReg() && p.Reg == r {
                    p.Reg = local
                }
            }
        }

        /* store after the last def */
        if last >= 0 {
            if bb.Ins[last].IsTerminator() {
                panic("regalloc: cannot split the result of a terminator: " + mir.PrintInstr(bb.Ins[last]))
            }
            bb.Insert(last + 1, mir.NewInstr(save, mir.Use(local), mir.SlotRef(slot)))
        }

        /* load before the first read */
        if load {
            bb.Insert(first, restoreOf(restore, local, slot))
        }
    }

    /* the register was renamed */
    self.fn.Invalidate()
    return ret
}
