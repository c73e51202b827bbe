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

type _UseDef struct {
    defs map[mir.Reg][]*mir.Instr
    uses map[mir.Reg][]*mir.Instr
}

func useDefOf(fn *mir.Function) *_UseDef {
    ret := &_UseDef {
        defs: make(map[mir.Reg][]*mir.Instr),
        uses: make(map[mir.Reg][]*mir.Instr),
    }

    /* scan every virtual register operand */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachReg(func(p *mir.Operand) {
            if !p.Reg.IsVirtual() {
                return
            } else if p.IsDef() {
                ret.defs[p.Reg] = append(ret.defs[p.Reg], ins)
            } else {
                ret.uses[p.Reg] = append(ret.uses[p.Reg], ins)
            }
        })
    })
    return ret
}

// singleDef returns the only defining instruction of r, nil if r has zero or
// several definitions.
func (self *_UseDef) singleDef(r mir.Reg) *mir.Instr {
    if defs := self.defs[r]; len(defs) != 1 {
        return nil
    } else {
        return defs[0]
    }
}

// singleUse returns the only using instruction of r, nil if r is read by
// zero or several instructions, or several times by the same instruction.
func (self *_UseDef) singleUse(r mir.Reg) *mir.Instr {
    if uses := self.uses[r]; len(uses) != 1 {
        return nil
    } else {
        return uses[0]
    }
}

// replaceReg rewrites every use of old with the given register.
func replaceReg(fn *mir.Function, old mir.Reg, reg mir.Reg, sub uint8) {
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachUse(func(p *mir.Operand) {
            if p.Reg == old && p.Sub == 0 {
                p.Reg, p.Sub = reg, sub
                p.SetFlag(mir.OpKill, false)
            }
        })
    })
}

// physDeadAfter reports whether physical register r is redefined before
// being read after ins. SCC is never live across blocks.
func physDeadAfter(ins *mir.Instr, r mir.Reg) bool {
    bb := ins.Block
    for _, p := range bb.Ins[bb.IndexOf(ins) + 1:] {
        if p.ReadsReg(r) {
            return false
        } else if p.WritesReg(r) {
            return true
        }
    }
    return r == mir.SCC
}

// isVectorReg reports whether the operand lives in a vector register.
func isVectorReg(fn *mir.Function, p *mir.Operand) bool {
    if !p.IsReg() {
        return false
    }
    switch fn.FileOf(p.Reg) {
        case mir.FileVector, mir.FileWholeWave : return true
        default                                : return false
    }
}
