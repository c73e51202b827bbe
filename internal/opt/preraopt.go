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

// PreRAOptimizations splits the 64-bit scalar immediate moves only read
// through their halves into two independent 32-bit moves, which are cheaper
// to allocate and to rematerialize.
type PreRAOptimizations struct{}

func (PreRAOptimizations) Apply(fn *mir.Function) {
    ok := false
    ud := useDefOf(fn)

    /* find the splittable moves */
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            if ins := bb.Ins[i]; splittable(ud, ins) {
                n := splitMove(fn, ud, ins)
                i += n - 1
                ok = true
            }
        }
    }

    /* the register set changed */
    if ok {
        fn.Invalidate()
    }
}

func splittable(ud *_UseDef, ins *mir.Instr) bool {
    if ins.Op != mir.S_MOV_B64 || len(ins.Args) != 2 || !ins.Args[1].IsImm() {
        return false
    }

    /* a full, single definition */
    dst := &ins.Args[0]
    if !dst.IsVirtual() || dst.IsPartial() || ud.singleDef(dst.Reg) != ins {
        return false
    }

    /* only ever read through one of its halves */
    for _, use := range ud.uses[dst.Reg] {
        for _, p := range use.Args {
            if p.IsReg() && p.Reg == dst.Reg && (p.IsDef() || p.Sub == 0) {
                return false
            }
        }
    }
    return len(ud.uses[dst.Reg]) != 0
}

func splitMove(fn *mir.Function, ud *_UseDef, ins *mir.Instr) int {
    var half [3]mir.Reg
    var movs []*mir.Instr

    /* halves of the immediate */
    r := ins.Args[0].Reg
    v := uint64(ins.Args[1].Imm)
    imm := [3]int64 { 0, int64(int32(uint32(v))), int64(int32(uint32(v >> 32))) }

    /* which halves are read */
    used := [3]bool{}
    for _, use := range ud.uses[r] {
        for _, p := range use.Args {
            if p.IsReg() && p.Reg == r {
                used[p.Sub] = true
            }
        }
    }

    /* one 32-bit move per used half */
    rc := mir.ClassOf(fn.ClassOf(r).Bank(), 1)
    for sub := 1; sub <= 2; sub++ {
        if used[sub] {
            half[sub] = fn.NewVRegWithFlags(rc, fn.VReg(r).Flags)
            movs = append(movs, mir.NewInstr(mir.S_MOV_B32, mir.Def(half[sub]), mir.Imm(imm[sub])))
        }
    }

    /* rewrite the readers */
    for _, use := range ud.uses[r] {
        use.ForEachUse(func(p *mir.Operand) {
            if p.Reg == r {
                p.Reg, p.Sub = half[p.Sub], 0
            }
        })
    }

    /* replace the wide move */
    ins.Block.Replace(ins, movs...)
    return len(movs)
}
