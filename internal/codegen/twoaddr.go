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
    `github.com/cloudwego/wavegen/internal/mir`
)

// TwoAddress makes every tied source operand read the register written by
// the instruction, inserting a copy when they differ.
type TwoAddress struct{}

func (TwoAddress) Apply(fn *mir.Function) {
    ok := false
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            if untie(bb.Ins[i]) {
                ok = true
                i++
            }
        }
    }
    if ok {
        fn.Invalidate()
    }
}

func untie(ins *mir.Instr) bool {
    tied := ins.Info().Tied
    if tied < 0 {
        return false
    }

    /* find the operand pair */
    src := ins.UseAt(int(tied))
    dst := ins.Def()
    if src == nil || dst == nil || !src.IsReg() || src.Reg == dst.Reg && src.Sub == dst.Sub {
        return false
    }

    /* copy the source into the destination */
    cp := mir.NewInstr(mir.COPY, mir.SubDef(dst.Reg, dst.Sub), mir.SubUse(src.Reg, src.Sub))
    cp.Args[1].SetFlag(mir.OpKill, src.IsKill())
    ins.Block.InsertBefore(ins, cp)

    /* and read it back */
    src.Reg, src.Sub = dst.Reg, dst.Sub
    src.SetFlag(mir.OpKill, true)
    return true
}
