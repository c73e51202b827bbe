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

// Block is a basic block. Pred and Succ are maintained by Function.RebuildCFG.
type Block struct {
    Id   int
    Ins  []*Instr
    Pred []*Block
    Succ []*Block
    Func *Function
}

func (self *Block) String() string {
    return fmt.Sprintf("bb.%d", self.Id)
}

func (self *Block) adopt(ins []*Instr) {
    for _, p := range ins {
        if p.Block != nil && p.Block != self {
            panic(fmt.Sprintf("mir: instruction %s is owned by %s", p.Op, p.Block))
        } else {
            p.Block = self
        }
    }
}

// Append adds instructions at the end of the block.
func (self *Block) Append(ins ...*Instr) {
    self.adopt(ins)
    self.Ins = append(self.Ins, ins...)
}

// Insert adds instructions before position i.
func (self *Block) Insert(i int, ins ...*Instr) {
    self.adopt(ins)
    buf := make([]*Instr, 0, len(self.Ins) + len(ins))
    buf = append(buf, self.Ins[:i]...)
    buf = append(buf, ins...)
    self.Ins = append(buf, self.Ins[i:]...)
}

// InsertBefore adds instructions right before ref.
func (self *Block) InsertBefore(ref *Instr, ins ...*Instr) {
    self.Insert(self.IndexOf(ref), ins...)
}

// InsertAfter adds instructions right after ref.
func (self *Block) InsertAfter(ref *Instr, ins ...*Instr) {
    self.Insert(self.IndexOf(ref) + 1, ins...)
}

// InsertBeforeTerminators adds instructions before the first terminator.
func (self *Block) InsertBeforeTerminators(ins ...*Instr) {
    self.Insert(self.FirstTerminator(), ins...)
}

// Remove detaches an instruction from the block.
func (self *Block) Remove(ins *Instr) {
    self.RemoveAt(self.IndexOf(ins))
}

// RemoveAt detaches the i-th instruction.
func (self *Block) RemoveAt(i int) {
    self.Ins[i].Block = nil
    copy(self.Ins[i:], self.Ins[i + 1:])
    self.Ins[len(self.Ins) - 1] = nil
    self.Ins = self.Ins[:len(self.Ins) - 1]
}

// Replace substitutes old with a sequence of instructions.
func (self *Block) Replace(old *Instr, ins ...*Instr) {
    i := self.IndexOf(old)
    self.RemoveAt(i)
    self.Insert(i, ins...)
}

// IndexOf returns the position of ins in the block.
func (self *Block) IndexOf(ins *Instr) int {
    for i, p := range self.Ins {
        if p == ins {
            return i
        }
    }
    panic(fmt.Sprintf("mir: instruction %s not found in %s", ins.Op, self))
}

// FirstTerminator is the index of the first terminator, or len(Ins).
func (self *Block) FirstTerminator() int {
    for i, p := range self.Ins {
        if p.IsTerminator() {
            return i
        }
    }
    return len(self.Ins)
}

// Terminators returns the terminating instructions.
func (self *Block) Terminators() []*Instr {
    return self.Ins[self.FirstTerminator():]
}

// Size is the encoded size of the block.
func (self *Block) Size() int {
    ret := 0
    for _, p := range self.Ins {
        ret += p.Size()
    }
    return ret
}

// FallsThrough reports whether control may reach the end of the block.
func (self *Block) FallsThrough() bool {
    for _, p := range self.Terminators() {
        if p.Is(F_Return) || (p.IsBranch() && !p.Is(F_Conditional)) {
            return false
        }
    }
    return true
}

// Next is the layout successor of the block, nil for the last block.
func (self *Block) Next() *Block {
    bbs := self.Func.Blocks
    for i, bb := range bbs {
        if bb == self && i + 1 < len(bbs) {
            return bbs[i + 1]
        }
    }
    return nil
}

func (self *Block) addSucc(bb *Block) {
    for _, p := range self.Succ {
        if p == bb {
            return
        }
    }
    self.Succ = append(self.Succ, bb)
    bb.Pred = append(bb.Pred, self)
}
