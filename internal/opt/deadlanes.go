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

const _AllLanes = ^uint32(0)

// DetectDeadLanes marks the virtual register defs whose lanes are never
// read as dead.
type DetectDeadLanes struct{}

func (DetectDeadLanes) Apply(fn *mir.Function) {
    ok := false
    rd := make(map[mir.Reg]uint32)

    /* collect the lanes read of every register */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachUse(func(p *mir.Operand) {
            if p.Reg.IsVirtual() {
                rd[p.Reg] |= laneMask(p)
            }
        })
    })

    /* mark the defs writing only unread lanes */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachDef(func(p *mir.Operand) {
            if p.Reg.IsVirtual() && !p.IsDead() && rd[p.Reg] & laneMask(p) == 0 {
                p.SetFlag(mir.OpDead, true)
                ok = true
            }
        })
    })

    /* operand flags changed */
    if ok {
        fn.Invalidate()
    }
}

func laneMask(p *mir.Operand) uint32 {
    if p.Sub == 0 {
        return _AllLanes
    } else {
        return 1 << (p.Sub - 1)
    }
}
