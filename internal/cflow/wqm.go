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

// WholeQuadMode brackets strict whole-wave computations with exec save and
// restore pseudos.
type WholeQuadMode struct{}

func (WholeQuadMode) Apply(fn *mir.Function) {
    ok := false
    for _, bb := range fn.Blocks {
        ok = wrapBlock(fn, bb) || ok
    }
    if ok {
        fn.Invalidate()
    }
}

func wrapBlock(fn *mir.Function, bb *mir.Block) bool {
    ok := false
    start := -1

    /* scan for the strict whole-wave spans */
    for i := 0; i < len(bb.Ins); i++ {
        switch ins := bb.Ins[i]; ins.Op {
            case mir.V_SET_INACTIVE_B32: {
                if start < 0 {
                    start = i
                }
            }

            /* the span ends with the result copy */
            case mir.STRICT_WWM: {
                if start < 0 {
                    start = i
                }
                i = wrapSpan(fn, bb, start, i)
                start, ok = -1, true
            }
        }
    }

    /* inactive lanes set without a strict result */
    if start >= 0 {
        wrapSpan(fn, bb, start, -1)
        ok = true
    }
    return ok
}

func wrapSpan(fn *mir.Function, bb *mir.Block, start int, end int) int {
    save := fn.NewVReg(mir.SReg64)
    enter := mir.NewInstr(mir.ENTER_STRICT_WWM, mir.Def(save))
    leave := mir.NewInstr(mir.EXIT_STRICT_WWM, mir.Use(save))

    /* orphan spans only cover the V_SET_INACTIVE_B32 instructions */
    if end < 0 {
        end = start
        for end + 1 < len(bb.Ins) && bb.Ins[end + 1].Op == mir.V_SET_INACTIVE_B32 {
            end++
        }
        bb.Insert(end + 1, leave)
        bb.Insert(start, enter)
        return end + 2
    }

    /* the result is copied out after exec is restored */
    ins := bb.Ins[end]
    cp := mir.NewInstr(mir.WWM_COPY, append([]mir.Operand(nil), ins.Args...)...)
    bb.Replace(ins, leave, cp)
    bb.Insert(start, enter)
    return end + 2
}
