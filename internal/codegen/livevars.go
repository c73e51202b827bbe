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

// LiveVariables recomputes the kill and dead flags of the virtual register
// operands from the block liveness.
type LiveVariables struct{}

func (LiveVariables) Apply(fn *mir.Function) {
    lv := fn.Liveness()
    for _, bb := range fn.Blocks {
        live := lv.LiveOut(bb).Clone()

        /* walk backwards */
        for i := len(bb.Ins) - 1; i >= 0; i-- {
            ins := bb.Ins[i]

            /* defs end the live ranges */
            ins.ForEachDef(func(p *mir.Operand) {
                if p.Reg.IsVirtual() {
                    k := mir.VRegKey(p.Reg.Index())
                    p.SetFlag(mir.OpDead, !live.Test(k))
                    if !p.IsPartial() {
                        live.Clear(k)
                    }
                }
            })

            /* PHI operands are live-out of the predecessors */
            if ins.Op == mir.PHI {
                continue
            }

            /* the last read is the kill */
            var keys []uint
            ins.ForEachUse(func(p *mir.Operand) {
                if p.Reg.IsVirtual() && !p.IsUndef() {
                    k := mir.VRegKey(p.Reg.Index())
                    p.SetFlag(mir.OpKill, !live.Test(k))
                    keys = append(keys, k)
                }
            })

            /* uses start the live ranges */
            for _, k := range keys {
                live.Set(k)
            }
        }
    }
}
