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

// DeadMachineInstrElim removes the instructions without side effects whose
// results are never read, until no more can be removed.
type DeadMachineInstrElim struct{}

func (DeadMachineInstrElim) Apply(fn *mir.Function) {
    EliminateDeadCode(fn)
}

// EliminateDeadCode runs the elimination and returns the number of removed
// instructions.
func EliminateDeadCode(fn *mir.Function) int {
    ret := 0
    use := make(map[mir.Reg]int)

    /* count the register reads */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachUse(func(p *mir.Operand) {
            if p.Reg.IsVirtual() {
                use[p.Reg]++
            }
        })
    })

    /* sweep backwards until nothing changes */
    for changed := true; changed; {
        changed = false
        for b := len(fn.Blocks) - 1; b >= 0; b-- {
            bb := fn.Blocks[b]
            for i := len(bb.Ins) - 1; i >= 0; i-- {
                if ins := bb.Ins[i]; isDead(ins, use) {
                    ins.ForEachUse(func(p *mir.Operand) {
                        if p.Reg.IsVirtual() {
                            use[p.Reg]--
                        }
                    })
                    bb.RemoveAt(i)
                    changed = true
                    ret++
                }
            }
        }
    }

    /* instructions were removed */
    if ret != 0 {
        fn.Invalidate()
    }
    return ret
}

func isDead(ins *mir.Instr, use map[mir.Reg]int) bool {
    if ins.HasSideEffects() {
        return false
    }

    /* the only implicit result allowed is a dead SCC */
    for _, r := range ins.Info().ImpDefs {
        if r != mir.SCC || !physDeadAfter(ins, mir.SCC) {
            return false
        }
    }

    /* every explicit result must be unused */
    for i := range ins.Args {
        if p := &ins.Args[i]; !p.IsDef() || p.IsDead() {
            continue
        } else if p.Reg.IsPhysical() {
            return false
        } else if use[p.Reg] != 0 {
            return false
        }
    }
    return true
}
