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
    `strings`

    `github.com/pkg/errors`
)

type _Verifier struct {
    fn   *Function
    errs []string
}

func (self *_Verifier) report(bb *Block, ins *Instr, format string, args ...interface{}) {
    msg := fmt.Sprintf(format, args...)
    if ins != nil {
        msg = fmt.Sprintf("%s: %s: %s", bb, PrintInstr(ins), msg)
    } else if bb != nil {
        msg = fmt.Sprintf("%s: %s", bb, msg)
    }
    self.errs = append(self.errs, msg)
}

// Verify checks the structural invariants of a function: instruction
// ownership, operand order, register classes, CFG edges, and that no virtual
// register of an already allocated register file remains.
func Verify(fn *Function) error {
    vf := &_Verifier { fn: fn }
    ids := make(map[*Block]bool, len(fn.Blocks))

    /* block membership */
    for _, bb := range fn.Blocks {
        ids[bb] = true
    }

    /* check every block */
    for _, bb := range fn.Blocks {
        vf.checkBlock(bb, ids)
    }

    /* check the spill slots */
    for i, s := range fn.Frame.Slots {
        if s.Id != i {
            vf.report(nil, nil, "spill slot %d has id %d", i, s.Id)
        }
    }

    /* aggregate the errors */
    if len(vf.errs) == 0 {
        return nil
    } else {
        return errors.Errorf("bad machine code in function %s:\n  %s", fn.Name, strings.Join(vf.errs, "\n  "))
    }
}

func (self *_Verifier) checkBlock(bb *Block, ids map[*Block]bool) {
    term := false

    /* CFG edges must be symmetric */
    for _, s := range bb.Succ {
        if !ids[s] {
            self.report(bb, nil, "successor %s is not in the function", s)
        } else if !containsBlock(s.Pred, bb) {
            self.report(bb, nil, "successor %s does not list it as a predecessor", s)
        }
    }

    /* check every instruction */
    for _, ins := range bb.Ins {
        if ins.Block != bb {
            self.report(bb, ins, "instruction is owned by %v", ins.Block)
        }

        /* terminators must be at the end of the block */
        if ins.IsTerminator() {
            term = true
        } else if term {
            self.report(bb, ins, "non-terminator after a terminator")
        }

        /* check the operands */
        self.checkInstr(bb, ins, ids)
    }
}

func (self *_Verifier) checkInstr(bb *Block, ins *Instr, ids map[*Block]bool) {
    nd := ins.Info().Defs

    /* explicit defs come first */
    for i := 0; i < nd; i++ {
        if i >= len(ins.Args) || !ins.Args[i].IsDef() || ins.Args[i].IsImplicit() {
            self.report(bb, ins, "operand %d must be an explicit def", i)
        }
    }

    /* check every operand */
    for i := range ins.Args {
        p := &ins.Args[i]
        switch p.Kind {
            case KindReg   : self.checkReg(bb, ins, p)
            case KindBlock : if !ids[p.Block] { self.report(bb, ins, "target %v is not in the function", p.Block) }
            case KindSlot  : if p.Slot < 0 || p.Slot >= len(self.fn.Frame.Slots) { self.report(bb, ins, "invalid spill slot %d", p.Slot) }
        }
    }
}

func (self *_Verifier) checkReg(bb *Block, ins *Instr, p *Operand) {
    if !p.Reg.IsVirtual() {
        if p.Reg.IsPhysical() && int(p.Sub) > p.Reg.Width() {
            self.report(bb, ins, "sub-register %d out of range for %s", p.Sub, p.Reg)
        }
        return
    }

    /* virtual register must be defined */
    if p.Reg.Index() >= len(self.fn.VRegs) {
        self.report(bb, ins, "undefined virtual register %s", p.Reg)
        return
    }

    /* check the class */
    rc := self.fn.ClassOf(p.Reg)
    rf := self.fn.FileOf(p.Reg)

    /* sub-register must fit in the class */
    if int(p.Sub) > rc.Width() {
        self.report(bb, ins, "sub-register %d out of range for %s:%s", p.Sub, p.Reg, rc)
    }

    /* the bank must be known once banks are resolved */
    if rf == FileUnknown && self.fn.BanksResolved() {
        self.report(bb, ins, "virtual register %s has an unresolved bank", p.Reg)
    }

    /* no virtual register of an allocated file may remain */
    if rf != FileUnknown && self.fn.IsAllocated(rf) {
        self.report(bb, ins, "virtual register %s of the already allocated %s file remains", p.Reg, rf)
    }
}

func containsBlock(bbs []*Block, bb *Block) bool {
    for _, p := range bbs {
        if p == bb {
            return true
        }
    }
    return false
}

// RemainingVRegs lists the virtual registers of the given file still
// referenced by the instruction stream.
func RemainingVRegs(fn *Function, file RegFile) []Reg {
    var ret []Reg
    seen := make(map[Reg]bool)

    /* scan every operand */
    fn.ForEachInstr(func(_ *Block, ins *Instr) {
        ins.ForEachReg(func(p *Operand) {
            if p.Reg.IsVirtual() && !seen[p.Reg] && fn.FileOf(p.Reg) == file {
                seen[p.Reg] = true
                ret = append(ret, p.Reg)
            }
        })
    })

    /* all done */
    return ret
}
