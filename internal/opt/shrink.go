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

// ShrinkInstructions rewrites VOP3 instructions into their shorter VOP2
// encoding when the operands allow it.
type ShrinkInstructions struct{}

func (ShrinkInstructions) Apply(fn *mir.Function) {
    ok := false
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        if shrink(fn, ins) {
            ok = true
        }
    })
    if ok {
        fn.Invalidate()
    }
}

func shrink(fn *mir.Function, ins *mir.Instr) bool {
    e32 := ins.Info().E32
    src := ins.Uses()

    /* needs a VOP2 form, and exactly two sources */
    if e32 == 0 || len(src) != 2 {
        return false
    }

    /* src1 of the VOP2 form must be a vector register */
    if !isVectorReg(fn, src[1]) {
        if !ins.Is(mir.F_Commutable) || !isVectorReg(fn, src[0]) {
            return false
        }
        *src[0], *src[1] = *src[1], *src[0]
    }

    /* compares write VCC implicitly in the VOP2 form */
    if e32.Info().Defs == 0 {
        if d := ins.Def(); d == nil || d.Reg != mir.VCC || d.IsPartial() {
            return false
        }
        ins.Args = append([]mir.Operand(nil), ins.Args[1:]...)
    }

    /* switch the encoding */
    ins.Op = e32
    return true
}
