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

// LoadStoreOpt merges pairs of adjacent 32-bit accesses through the same
// base register into one 64-bit access. Loads are merged at the first load,
// stores at the second store.
type LoadStoreOpt struct{}

func (LoadStoreOpt) Apply(fn *mir.Function) {
    ud := useDefOf(fn)
    ok := false

    /* scan every block */
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            if mergeAt(fn, ud, bb, i) {
                ok = true
            }
        }
    }

    /* the instruction list changed */
    if ok {
        fn.Invalidate()
    }
}

func isMergeable(ins *mir.Instr) bool {
    if ins.Info().Wide == 0 {
        return false
    }

    /* base must be a full register, offset must be known */
    base, off := ins.MemBase(), ins.MemOffset()
    return base != nil && off != nil && base.IsReg() && off.IsImm()
}

func sameBase(a *mir.Instr, b *mir.Instr) bool {
    x, y := a.MemBase(), b.MemBase()
    return x.Reg == y.Reg && x.Sub == y.Sub
}

func mergeAt(fn *mir.Function, ud *_UseDef, bb *mir.Block, i int) bool {
    ins := bb.Ins[i]
    if !isMergeable(ins) {
        return false
    }

    /* look for the partner access */
    for j := i + 1; j < len(bb.Ins); j++ {
        next := bb.Ins[j]

        /* a matching access */
        if next.Op == ins.Op && isMergeable(next) && sameBase(ins, next) {
            if d := next.MemOffset().Imm - ins.MemOffset().Imm; d == 4 || d == -4 {
                if ins.MayLoad() {
                    return mergeLoads(fn, ud, ins, next, d < 0)
                } else {
                    return mergeStores(fn, ins, next, d < 0)
                }
            }
        }

        /* stop at anything the accesses may not be moved across */
        if blocksMerge(ins, next) {
            return false
        }
    }

    /* no partner found */
    return false
}

func blocksMerge(ins *mir.Instr, next *mir.Instr) bool {
    if next.HasSideEffects() || next.IsCall() || next.MayStore() {
        return true
    }

    /* loads may pass loads, stores may not pass anything touching memory */
    if ins.MayStore() && next.MayLoad() {
        return true
    }

    /* the base and the stored value must stay the same */
    redef := false
    ins.ForEachUse(func(p *mir.Operand) { redef = redef || redefines(next, p.Reg) })
    return redef
}

// redefines reports whether ins writes r. Virtual registers are not assumed
// to be in SSA form.
func redefines(ins *mir.Instr, r mir.Reg) bool {
    if r.IsPhysical() {
        return ins.WritesReg(r)
    }
    for i := range ins.Args {
        if p := &ins.Args[i]; p.IsReg() && p.IsDef() && p.Reg == r {
            return true
        }
    }
    return false
}

func mergeLoads(fn *mir.Function, ud *_UseDef, first *mir.Instr, second *mir.Instr, swap bool) bool {
    d0, d1 := first.Args[0], second.Args[0]
    if !d0.IsVirtual() || !d1.IsVirtual() || d0.IsPartial() || d1.IsPartial() {
        return false
    }

    /* both results must be defined exactly once */
    if ud.singleDef(d0.Reg) != first || ud.singleDef(d1.Reg) != second {
        return false
    }

    /* the lower address is the low half */
    lo, hi := d0.Reg, d1.Reg
    off := first.MemOffset().Imm
    if swap {
        lo, hi = hi, lo
        off = second.MemOffset().Imm
    }

    /* create the wide load in place of the first one */
    bank := fn.ClassOf(lo).Bank()
    if bank == mir.FileUnknown {
        return false
    }

    /* the wide result inherits the allocation attributes */
    wide := fn.NewVRegWithFlags(mir.ClassOf(bank, 2), fn.VReg(lo).Flags)
    args := []mir.Operand { mir.Def(wide), *first.MemBase(), mir.Imm(off) }
    args  = append(args, implicitOf(first)...)
    first.Block.Replace(first, mir.NewInstr(first.Info().Wide, args...))
    second.Block.Remove(second)

    /* redirect the users to the halves */
    replaceReg(fn, lo, wide, 1)
    replaceReg(fn, hi, wide, 2)
    return true
}

func mergeStores(fn *mir.Function, first *mir.Instr, second *mir.Instr, swap bool) bool {
    v0, v1 := first.StoreData(), second.StoreData()
    if v0 == nil || v1 == nil || !v0.IsReg() || !v1.IsReg() {
        return false
    }

    /* the lower address is the low half */
    lo, hi := *v0, *v1
    off := first.MemOffset().Imm
    if swap {
        lo, hi = hi, lo
        off = second.MemOffset().Imm
    }

    /* only virtual vector values are paired */
    if !lo.IsVirtual() || !hi.IsVirtual() || fn.FileOf(lo.Reg) != mir.FileVector || fn.FileOf(hi.Reg) != mir.FileVector {
        return false
    }

    /* assemble the halves */
    wide := fn.NewVReg(mir.VReg64)
    cp0 := mir.NewInstr(mir.COPY, mir.SubDef(wide, 1), mir.SubUse(lo.Reg, lo.Sub))
    cp1 := mir.NewInstr(mir.COPY, mir.SubDef(wide, 2), mir.SubUse(hi.Reg, hi.Sub))
    cp0.Args[0].SetFlag(mir.OpUndef, true)

    /* store at the second position, where both values are available */
    args := []mir.Operand { *second.MemBase(), mir.Use(wide), mir.Imm(off) }
    args  = append(args, implicitOf(second)...)
    second.Block.Replace(second, cp0, cp1, mir.NewInstr(second.Info().Wide, args...))
    first.Block.Remove(first)
    return true
}
