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

// OperandKind is the kind of an instruction operand.
type OperandKind uint8

const (
    KindReg OperandKind = iota
    KindImm
    KindBlock
    KindSlot
)

// OperandFlags are the per-operand register flags.
type OperandFlags uint8

const (
    OpDef OperandFlags = 1 << iota
    OpImplicit
    OpKill
    OpDead
    OpUndef
)

// Operand is a single instruction operand.
type Operand struct {
    Kind  OperandKind
    Flags OperandFlags
    Reg   Reg
    Sub   uint8     // 32-bit sub-register index plus one, 0 for the full register
    Imm   int64
    Slot  int
    Block *Block
}

func Use(r Reg) Operand {
    return Operand { Kind: KindReg, Reg: r }
}

func Def(r Reg) Operand {
    return Operand { Kind: KindReg, Reg: r, Flags: OpDef }
}

func SubUse(r Reg, sub uint8) Operand {
    return Operand { Kind: KindReg, Reg: r, Sub: sub }
}

func SubDef(r Reg, sub uint8) Operand {
    return Operand { Kind: KindReg, Reg: r, Sub: sub, Flags: OpDef }
}

func ImplicitUse(r Reg) Operand {
    return Operand { Kind: KindReg, Reg: r, Flags: OpImplicit }
}

func ImplicitDef(r Reg) Operand {
    return Operand { Kind: KindReg, Reg: r, Flags: OpImplicit | OpDef }
}

func Imm(v int64) Operand {
    return Operand { Kind: KindImm, Imm: v }
}

func BlockRef(bb *Block) Operand {
    return Operand { Kind: KindBlock, Block: bb }
}

func SlotRef(id int) Operand {
    return Operand { Kind: KindSlot, Slot: id }
}

func (self *Operand) IsReg() bool      { return self.Kind == KindReg }
func (self *Operand) IsImm() bool      { return self.Kind == KindImm }
func (self *Operand) IsDef() bool      { return self.Kind == KindReg && self.Flags & OpDef != 0 }
func (self *Operand) IsUse() bool      { return self.Kind == KindReg && self.Flags & OpDef == 0 }
func (self *Operand) IsKill() bool     { return self.Flags & OpKill != 0 }
func (self *Operand) IsDead() bool     { return self.Flags & OpDead != 0 }
func (self *Operand) IsUndef() bool    { return self.Flags & OpUndef != 0 }
func (self *Operand) IsImplicit() bool { return self.Flags & OpImplicit != 0 }

// IsVirtual reports whether the operand references a virtual register.
func (self *Operand) IsVirtual() bool {
    return self.Kind == KindReg && self.Reg.IsVirtual()
}

// IsPartial reports whether the operand accesses only part of its register.
func (self *Operand) IsPartial() bool {
    return self.Kind == KindReg && self.Sub != 0
}

func (self *Operand) SetFlag(f OperandFlags, v bool) {
    if v {
        self.Flags |= f
    } else {
        self.Flags &^= f
    }
}

// PhysReg resolves the sub-register index of a physical register operand.
func (self *Operand) PhysReg() Reg {
    if !self.Reg.IsPhysical() {
        panic("mir: PhysReg() of a non-physical operand")
    } else {
        return self.Reg.Sub(self.Sub)
    }
}

// InstrFlags are the per-instruction emission flags.
type InstrFlags uint8

const (
    InBundle InstrFlags = 1 << iota
    InClause
    LastUse
    PrologueEnd
    FrameSetup
)

// Instr is a machine instruction. Explicit defs always come first in Args,
// followed by explicit uses and implicit operands.
type Instr struct {
    Op    Op
    Args  []Operand
    Flags InstrFlags
    Block *Block
}

func NewInstr(op Op, args ...Operand) *Instr {
    return &Instr { Op: op, Args: args }
}

func (self *Instr) Info() *OpInfo {
    return self.Op.Info()
}

func (self *Instr) Is(flags OpFlags) bool {
    return self.Op.Is(flags)
}

func (self *Instr) IsPseudo() bool     { return self.Is(F_Pseudo) }
func (self *Instr) IsBranch() bool     { return self.Is(F_Branch) }
func (self *Instr) IsTerminator() bool { return self.Is(F_Terminator) }
func (self *Instr) IsMarker() bool     { return self.Is(F_Marker) }
func (self *Instr) IsCopy() bool       { return self.Is(F_Copy) }
func (self *Instr) IsCall() bool       { return self.Is(F_Call) }
func (self *Instr) MayLoad() bool      { return self.Is(F_MayLoad) }
func (self *Instr) MayStore() bool     { return self.Is(F_MayStore) }

// HasSideEffects reports whether the instruction must be kept even when all
// of its results are unused.
func (self *Instr) HasSideEffects() bool {
    return self.Is(F_SideEffects | F_MayStore | F_Branch | F_Terminator | F_Call | F_Marker) || self.WritesExec()
}

// WritesExec reports whether the instruction modifies the exec mask.
func (self *Instr) WritesExec() bool {
    for _, r := range self.Info().ImpDefs {
        if r == EXEC {
            return true
        }
    }
    for i := range self.Args {
        if p := &self.Args[i]; p.IsDef() && p.Reg == EXEC {
            return true
        }
    }
    return false
}

// Size is the encoded size of the instruction, S_NOP and friends included.
func (self *Instr) Size() int {
    return self.Info().Size
}

// WaitStates is the number of wait states this instruction provides.
func (self *Instr) WaitStates() int {
    switch {
        case self.Op == S_NOP : return int(self.Args[0].Imm) + 1
        case self.Size() == 0 : return 0
        default               : return 1
    }
}

func (self *Instr) Has(f InstrFlags) bool {
    return self.Flags & f != 0
}

func (self *Instr) SetFlag(f InstrFlags, v bool) {
    if v {
        self.Flags |= f
    } else {
        self.Flags &^= f
    }
}

// Target is the branch target of the instruction, if any.
func (self *Instr) Target() *Block {
    for i := range self.Args {
        if self.Args[i].Kind == KindBlock {
            return self.Args[i].Block
        }
    }
    return nil
}

// SetTarget replaces the branch target.
func (self *Instr) SetTarget(bb *Block) {
    for i := range self.Args {
        if self.Args[i].Kind == KindBlock {
            self.Args[i].Block = bb
            return
        }
    }
    panic("mir: SetTarget() on an instruction without a block operand")
}

// Defs returns the explicit def operands.
func (self *Instr) Defs() []Operand {
    n := self.Info().Defs
    if n > len(self.Args) {
        n = len(self.Args)
    }
    return self.Args[:n]
}

// Def returns the first explicit def.
func (self *Instr) Def() *Operand {
    if self.Info().Defs == 0 || len(self.Args) == 0 || !self.Args[0].IsDef() {
        return nil
    } else {
        return &self.Args[0]
    }
}

// Uses returns the explicit use operands, registers and immediates alike.
func (self *Instr) Uses() []*Operand {
    ret := make([]*Operand, 0, len(self.Args))
    for i := self.Info().Defs; i < len(self.Args); i++ {
        if p := &self.Args[i]; !p.IsImplicit() {
            ret = append(ret, p)
        }
    }
    return ret
}

// UseAt returns the i-th explicit use, nil if out of range.
func (self *Instr) UseAt(i int) *Operand {
    if j := self.Info().Defs + i; j < len(self.Args) && !self.Args[j].IsImplicit() && !self.Args[j].IsDef() {
        return &self.Args[j]
    } else {
        return nil
    }
}

// ForEachReg invokes fn for every register operand.
func (self *Instr) ForEachReg(fn func(p *Operand)) {
    for i := range self.Args {
        if self.Args[i].Kind == KindReg && self.Args[i].Reg != NoReg {
            fn(&self.Args[i])
        }
    }
}

// ForEachDef invokes fn for every register def.
func (self *Instr) ForEachDef(fn func(p *Operand)) {
    self.ForEachReg(func(p *Operand) {
        if p.IsDef() {
            fn(p)
        }
    })
}

// ForEachUse invokes fn for every register use.
func (self *Instr) ForEachUse(fn func(p *Operand)) {
    self.ForEachReg(func(p *Operand) {
        if p.IsUse() {
            fn(p)
        }
    })
}

// ReadsReg reports whether the instruction reads any unit of physical
// register r, implicit operands of the opcode included.
func (self *Instr) ReadsReg(r Reg) bool {
    for _, v := range self.Info().ImpUses {
        if v.Overlaps(r) {
            return true
        }
    }
    for i := range self.Args {
        if p := &self.Args[i]; p.IsUse() && p.Reg.IsPhysical() && p.PhysReg().Overlaps(r) {
            return true
        }
    }
    return false
}

// WritesReg reports whether the instruction writes any unit of physical
// register r, implicit operands of the opcode included.
func (self *Instr) WritesReg(r Reg) bool {
    for _, v := range self.Info().ImpDefs {
        if v.Overlaps(r) {
            return true
        }
    }
    for i := range self.Args {
        if p := &self.Args[i]; p.IsDef() && p.Reg.IsPhysical() && p.PhysReg().Overlaps(r) {
            return true
        }
    }
    return false
}

// UsesVReg reports whether the instruction reads virtual register r.
func (self *Instr) UsesVReg(r Reg) bool {
    for i := range self.Args {
        if p := &self.Args[i]; p.IsUse() && p.Reg == r {
            return true
        }
    }
    return false
}

// Clone returns a detached copy of the instruction.
func (self *Instr) Clone() *Instr {
    ret := &Instr { Op: self.Op, Flags: self.Flags }
    ret.Args = append([]Operand(nil), self.Args...)
    return ret
}

// Index is the position of the instruction in its block.
func (self *Instr) Index() int {
    if self.Block == nil {
        panic("mir: Index() of a detached instruction")
    } else {
        return self.Block.IndexOf(self)
    }
}

// MemBase is the memory base register operand, nil if there is none.
func (self *Instr) MemBase() *Operand {
    if p := self.Info(); p.Base < 0 || int(p.Base) >= len(self.Args) {
        return nil
    } else {
        return &self.Args[p.Base]
    }
}

// MemOffset is the memory offset operand, nil if there is none.
func (self *Instr) MemOffset() *Operand {
    if p := self.Info(); p.Offset < 0 || int(p.Offset) >= len(self.Args) {
        return nil
    } else {
        return &self.Args[p.Offset]
    }
}

// StoreData is the stored value operand of a store.
func (self *Instr) StoreData() *Operand {
    if !self.MayStore() || self.Info().Base < 0 {
        return nil
    }
    for i, p := range self.Uses() {
        if i != int(self.Info().Base) && p.IsReg() {
            return p
        }
    }
    return nil
}
