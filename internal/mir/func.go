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

package mir

import (
    `fmt`
)

// Function is the unit of compilation.
type Function struct {
    Name   string
    Kernel bool
    Blocks []*Block
    VRegs  []VRegInfo
    Frame  Frame
    Info   MachineInfo
    Layout *Layout
    nextid int
    vrm    *VirtRegMap
    alloc  [FileSpecial + 1]bool
    banked bool
    valid  bool
    live   *Liveness
    ivs    *Intervals
    loops  *Loops
}

func NewFunction(name string) *Function {
    return &Function { Name: name }
}

func (self *Function) String() string {
    return Print(self)
}

// NewBlock appends a new basic block to the layout.
func (self *Function) NewBlock() *Block {
    bb := &Block { Id: self.nextid, Func: self }
    self.nextid++
    self.Blocks = append(self.Blocks, bb)
    self.Invalidate()
    return bb
}

// Entry is the entry block.
func (self *Function) Entry() *Block {
    if len(self.Blocks) == 0 {
        panic("mir: function " + self.Name + " has no blocks")
    } else {
        return self.Blocks[0]
    }
}

// BlockById looks up a block by its id.
func (self *Function) BlockById(id int) *Block {
    for _, bb := range self.Blocks {
        if bb.Id == id {
            return bb
        }
    }
    return nil
}

// NewVReg creates a virtual register of the given class.
func (self *Function) NewVReg(rc RegClass) Reg {
    return self.NewVRegWithFlags(rc, 0)
}

// NewVRegWithFlags creates a virtual register with allocation attributes.
func (self *Function) NewVRegWithFlags(rc RegClass, flags VRegFlags) Reg {
    if rc == ClassNone {
        panic("mir: creating a virtual register without a class")
    }
    self.VRegs = append(self.VRegs, VRegInfo { Class: rc, Flags: flags })
    return Virt(len(self.VRegs) - 1)
}

// VReg returns the descriptor of a virtual register.
func (self *Function) VReg(r Reg) *VRegInfo {
    if i := r.Index(); i >= len(self.VRegs) {
        panic(fmt.Sprintf("mir: undefined virtual register %s", r))
    } else {
        return &self.VRegs[i]
    }
}

// ClassOf returns the class of a virtual register.
func (self *Function) ClassOf(r Reg) RegClass {
    return self.VReg(r).Class
}

// Constrain narrows the class of a virtual register. Widening or changing
// the bank of a register is an invariant violation.
func (self *Function) Constrain(r Reg, rc RegClass) {
    if p := self.VReg(r); !p.Class.Narrows(rc) {
        panic(fmt.Sprintf("mir: cannot constrain %s from %s to %s", r, p.Class, rc))
    } else if p.Class != rc {
        p.Class = rc
        self.Invalidate()
    }
}

// FileOf classifies a register into the register file it is allocated from.
func (self *Function) FileOf(r Reg) RegFile {
    if !r.IsVirtual() {
        return r.File()
    }

    /* classify by class bank and flags */
    switch p := self.VReg(r); p.Class.Bank() {
        case FileScalar  : return FileScalar
        case FileUnknown : return FileUnknown
        default          : if p.Flags & FlagWWM != 0 { return FileWholeWave } else { return FileVector }
    }
}

// SetFlags updates the attributes of a virtual register.
func (self *Function) SetFlags(r Reg, flags VRegFlags) {
    self.VReg(r).Flags |= flags
    self.Invalidate()
}

// RegMap is the virtual register map of the function.
func (self *Function) RegMap() *VirtRegMap {
    if self.vrm == nil {
        self.vrm = newVirtRegMap(self)
    }
    return self.vrm
}

// MarkAllocated records that no virtual register of the file remains.
func (self *Function) MarkAllocated(file RegFile) {
    self.alloc[file] = true
}

func (self *Function) IsAllocated(file RegFile) bool {
    return self.alloc[file]
}

// MarkBanksResolved records that every register bank is known.
func (self *Function) MarkBanksResolved() {
    self.banked = true
}

func (self *Function) BanksResolved() bool {
    return self.banked
}

// Invalidate drops every cached analysis. Any pass that adds or removes
// instructions, defs or uses must call it.
func (self *Function) Invalidate() {
    self.valid = false
    self.live  = nil
    self.ivs   = nil
    self.loops = nil
}

// IsClean reports whether the cached analyses are still valid.
func (self *Function) IsClean() bool {
    return self.valid
}

// ForEachInstr iterates over every instruction in layout order. The callback
// must not add or remove instructions of the block being visited.
func (self *Function) ForEachInstr(fn func(bb *Block, ins *Instr)) {
    for _, bb := range self.Blocks {
        for _, ins := range bb.Ins {
            fn(bb, ins)
        }
    }
}

// NumInstrs counts the instructions of the function.
func (self *Function) NumInstrs() int {
    ret := 0
    for _, bb := range self.Blocks {
        ret += len(bb.Ins)
    }
    return ret
}

// Size is the encoded size of the function.
func (self *Function) Size() int {
    ret := 0
    for _, bb := range self.Blocks {
        ret += bb.Size()
    }
    return ret
}

// RebuildCFG recomputes the predecessor and successor edges from the
// terminators and the block layout.
func (self *Function) RebuildCFG() {
    for _, bb := range self.Blocks {
        bb.Pred = bb.Pred[:0]
        bb.Succ = bb.Succ[:0]
    }

    /* add the explicit edges */
    for i, bb := range self.Blocks {
        for _, ins := range bb.Terminators() {
            if t := ins.Target(); t != nil {
                bb.addSucc(t)
            }
        }

        /* add the fallthrough edge */
        if bb.FallsThrough() && i + 1 < len(self.Blocks) {
            bb.addSucc(self.Blocks[i + 1])
        }
    }

    /* successors changed */
    self.Invalidate()
}

// RemoveUnreachable drops blocks not reachable from the entry.
func (self *Function) RemoveUnreachable() bool {
    seen := make(map[*Block]bool, len(self.Blocks))
    iter := NewBlockIter(self)

    /* mark the reachable blocks */
    for iter.Next() {
        seen[iter.Block()] = true
    }

    /* nothing to do */
    if len(seen) == len(self.Blocks) {
        return false
    }

    /* compact the block list */
    bbs := self.Blocks[:0]
    for _, bb := range self.Blocks {
        if seen[bb] {
            bbs = append(bbs, bb)
        }
    }

    /* update the CFG */
    self.Blocks = bbs
    self.RebuildCFG()
    return true
}
