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

package cflow

import (
    `github.com/cloudwego/wavegen/internal/mir`
)

// OptimizeExecMaskingPreRA removes exec mask operations that do not change
// anything before register allocation.
type OptimizeExecMaskingPreRA struct{}

func (OptimizeExecMaskingPreRA) Apply(fn *mir.Function) {
    ok := false
    zeros := zeroMasks(fn)

    /* rewrite each block in turn */
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            ins := bb.Ins[i]
            switch {
                case isAndSelf(ins) && sccDead(ins): {
                    bb.Replace(ins, mir.NewInstr(mir.COPY, ins.Args[0], *ins.UseAt(0)))
                    ok = true
                }
                case isOrZero(ins, zeros) && sccDead(ins): {
                    bb.RemoveAt(i)
                    ok, i = true, i - 1
                }
            }
        }
    }

    /* the zero masks may have no use left */
    if ok {
        dropUnused(fn, zeros)
        fn.Invalidate()
    }
}

func isAndSelf(ins *mir.Instr) bool {
    if ins.Op != mir.S_AND_B64 {
        return false
    }
    a, b := ins.UseAt(0), ins.UseAt(1)
    return a != nil && b != nil && a.IsReg() && b.IsReg() && a.Reg == b.Reg && a.Sub == 0 && b.Sub == 0
}

func isOrZero(ins *mir.Instr, zeros map[mir.Reg]*mir.Instr) bool {
    if ins.Op != mir.S_OR_B64 || len(ins.Args) < 3 || ins.Args[0].Reg != mir.EXEC {
        return false
    }

    /* exec = S_OR_B64 exec, 0 */
    a, b := ins.UseAt(0), ins.UseAt(1)
    if a == nil || b == nil || !a.IsReg() || a.Reg != mir.EXEC {
        return false
    } else if b.IsImm() {
        return b.Imm == 0
    } else {
        return b.IsVirtual() && b.Sub == 0 && zeros[b.Reg] != nil
    }
}

// zeroMasks maps the single-definition virtual registers holding a zero
// mask to their definitions.
func zeroMasks(fn *mir.Function) map[mir.Reg]*mir.Instr {
    defs := make(map[mir.Reg]int)
    ret := make(map[mir.Reg]*mir.Instr)

    /* count the defs */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachDef(func(p *mir.Operand) {
            if p.IsVirtual() {
                defs[p.Reg]++
                if ins.Op == mir.S_MOV_B64 && p.Sub == 0 && ins.UseAt(0).IsImm() && ins.UseAt(0).Imm == 0 {
                    ret[p.Reg] = ins
                }
            }
        })
    })

    /* drop the registers defined more than once */
    for r := range ret {
        if defs[r] != 1 {
            delete(ret, r)
        }
    }
    return ret
}

func dropUnused(fn *mir.Function, defs map[mir.Reg]*mir.Instr) {
    used := make(map[mir.Reg]bool)
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachUse(func(p *mir.Operand) {
            used[p.Reg] = true
        })
    })
    for r, ins := range defs {
        if !used[r] && ins.Block != nil {
            ins.Block.Remove(ins)
        }
    }
}

// sccDead reports whether the SCC written by the instruction is never read.
func sccDead(ins *mir.Instr) bool {
    for i := range ins.Args {
        if p := &ins.Args[i]; p.IsDef() && p.Reg == mir.SCC && p.IsDead() {
            return true
        }
    }

    /* scan forward to the next SCC access */
    bb := ins.Block
    for _, p := range bb.Ins[bb.IndexOf(ins) + 1:] {
        if p.ReadsReg(mir.SCC) {
            return false
        } else if p.WritesReg(mir.SCC) {
            return true
        }
    }

    /* SCC is never live across blocks */
    return true
}

// OptimizeExecMasking folds exec save sequences into S_AND_SAVEEXEC_B64
// after register allocation.
type OptimizeExecMasking struct{}

func (OptimizeExecMasking) Apply(fn *mir.Function) {
    ok := false
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            if foldSaveExec(fn, bb, i) {
                ok = true
            }
        }
    }
    if ok {
        fn.Invalidate()
    }
}

func isExecCopy(ins *mir.Instr) bool {
    if ins.Op != mir.COPY && ins.Op != mir.S_MOV_B64 {
        return false
    }
    src := ins.UseAt(0)
    return src != nil && src.IsReg() && src.Reg == mir.EXEC && len(ins.Defs()) == 1 && ins.Args[0].Reg.IsPhysical()
}

func foldSaveExec(fn *mir.Function, bb *mir.Block, i int) bool {
    var and  *mir.Instr
    var mov  *mir.Instr
    var cond *mir.Operand

    /* s = COPY $exec */
    cp := bb.Ins[i]
    if !isExecCopy(cp) {
        return false
    }

    /* t = S_AND_B64 s, c */
    s := cp.Args[0].PhysReg()
    j := i + 1
    for ; j < len(bb.Ins); j++ {
        if p := bb.Ins[j]; p.Op == mir.S_AND_B64 && p.Args[0].Reg.IsPhysical() {
            if a, b := p.UseAt(0), p.UseAt(1); a.IsReg() && a.PhysReg() == s && b.IsReg() {
                and, cond = p, b
                break
            } else if a.IsReg() && b.IsReg() && b.PhysReg() == s {
                and, cond = p, a
                break
            }
        }
        if blocksSaveExec(bb.Ins[j], s, mir.NoReg) {
            return false
        }
    }

    /* no such instruction */
    if and == nil {
        return false
    }

    /* $exec = S_MOV_B64 t */
    t := and.Args[0].PhysReg()
    c := cond.PhysReg()
    if t.Overlaps(s) || c.Overlaps(s) || c.Overlaps(mir.EXEC) {
        return false
    }
    k := j + 1
    for ; k < len(bb.Ins); k++ {
        if p := bb.Ins[k]; p.Op == mir.S_MOV_B64 && p.Args[0].Reg == mir.EXEC {
            if u := p.UseAt(0); u.IsReg() && u.PhysReg() == t {
                mov = p
                break
            }
        }
        if blocksSaveExec(bb.Ins[k], s, t) || bb.Ins[k].WritesReg(c) || bb.Ins[k].ReadsReg(mir.SCC) || bb.Ins[k].WritesReg(mir.SCC) {
            return false
        }
    }

    /* t must die with the move */
    if mov == nil || !physDead(fn, bb, k + 1, t) {
        return false
    }

    /* fold the sequence */
    ins := mir.NewInstr(mir.S_AND_SAVEEXEC_B64, mir.Def(s), *cond, deadSCC())
    ins.Args[1].SetFlag(mir.OpKill, false)
    bb.Replace(mov, ins)
    bb.Remove(and)
    bb.Remove(cp)
    return true
}

func blocksSaveExec(ins *mir.Instr, s mir.Reg, t mir.Reg) bool {
    if ins.WritesExec() || ins.ReadsReg(s) || ins.WritesReg(s) {
        return true
    } else if t == mir.NoReg {
        return false
    } else {
        return ins.ReadsReg(t) || ins.WritesReg(t)
    }
}

// physDead reports whether physical register r is dead from the i-th
// instruction of the block on.
func physDead(fn *mir.Function, bb *mir.Block, i int, r mir.Reg) bool {
    for _, ins := range bb.Ins[i:] {
        if ins.ReadsReg(r) {
            return false
        } else if ins.WritesReg(r) {
            return true
        }
    }

    /* check the live-out units */
    out := fn.Liveness().LiveOut(bb)
    for _, u := range r.Units() {
        if out.Test(uint(u.Key())) {
            return false
        }
    }
    return true
}
