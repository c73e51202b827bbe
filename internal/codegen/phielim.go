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

package codegen

import (
    `fmt`

    `github.com/cloudwego/wavegen/internal/mir`
)

// PHIElimination replaces every PHI with copies through a fresh register:
// one copy at the end of each predecessor, one at the top of the block.
type PHIElimination struct{}

func (PHIElimination) Apply(fn *mir.Function) {
    ok := false
    for _, bb := range fn.Blocks {
        var top []*mir.Instr
        var phi []*mir.Instr

        /* collect the PHIs */
        for _, ins := range bb.Ins {
            if ins.Op == mir.PHI {
                phi = append(phi, ins)
            }
        }

        /* lower each of them */
        for _, ins := range phi {
            top = append(top, lowerPHI(fn, ins))
            bb.Remove(ins)
        }

        /* the join copies go first */
        if len(top) != 0 {
            ok = true
            bb.Insert(0, top...)
        }
    }

    /* the instruction list changed */
    if ok {
        fn.Invalidate()
    }
}

func lowerPHI(fn *mir.Function, ins *mir.Instr) *mir.Instr {
    dst := ins.Args[0]
    src := ins.Uses()
    tmp := fn.NewVRegWithFlags(fn.ClassOf(dst.Reg), fn.VReg(dst.Reg).Flags)

    /* PHI operands come in (value, block) pairs */
    if len(src) % 2 != 0 {
        panic(fmt.Sprintf("codegen: malformed PHI: %s", mir.PrintInstr(ins)))
    }

    /* copy the incoming values at the end of the predecessors */
    for i := 0; i < len(src); i += 2 {
        val, pred := src[i], src[i + 1]
        if pred.Kind != mir.KindBlock || !val.IsReg() {
            panic(fmt.Sprintf("codegen: malformed PHI: %s", mir.PrintInstr(ins)))
        } else if !val.IsUndef() {
            pred.Block.InsertBeforeTerminators(mir.NewInstr(mir.COPY, mir.Def(tmp), mir.SubUse(val.Reg, val.Sub)))
        }
    }

    /* and the join copy */
    use := mir.Use(tmp)
    use.SetFlag(mir.OpKill, true)
    dst.SetFlag(mir.OpDead, false)
    return mir.NewInstr(mir.COPY, dst, use)
}
