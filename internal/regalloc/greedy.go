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

package regalloc

import (
    `github.com/oleiade/lane`

    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/target`
)

// _Greedy is _Basic with eviction of lighter interfering registers, and
// per-block splitting of the registers living across blocks before they
// are spilled.
type _Greedy struct {
    desc *target.Desc
    file RegisterFile
}

func newGreedy(desc *target.Desc, file RegisterFile) Allocator {
    return &_Greedy { desc: desc, file: file }
}

func (self *_Greedy) Allocate(fn *mir.Function) {
    sp := NewSpiller(self.desc, self.file, fn)
    ctx := newContext(self.desc, self.file, fn)
    todo := vregsOf(fn, self.file)

    /* the first round may split, the second one only spills */
    for round := 0; len(todo) != 0; round++ {
        var split []mir.Reg
        var spill []mir.Reg

        /* allocate the pending registers */
        ctx.rebuild()
        failed := self.run(ctx, todo)
        cross := crossingRegs(fn)

        /* split or spill the failed ones */
        for _, r := range failed {
            if round == 0 && cross[r] {
                split = append(split, r)
            } else {
                spill = append(spill, r)
            }
        }

        /* spill first, the split registers are renamed */
        todo = todo[:0]
        sp.Spill(spill)
        for _, r := range split {
            todo = append(todo, sp.Split(r)...)
        }
    }
}

func (self *_Greedy) run(ctx *_Context, regs []mir.Reg) []mir.Reg {
    var failed []mir.Reg
    q := lane.NewPQueue(lane.MAXPQ)
    enqueue(ctx, q, regs)

    /* assign in priority order, evicting the lighter registers */
    for q.Size() != 0 {
        v, _ := q.Pop()
        r := v.(mir.Reg)

        /* try a free register first */
        if ctx.tryAssign(r) {
            continue
        }

        /* then evict something */
        if ev, ok := ctx.tryEvict(r); ok {
            enqueue(ctx, q, ev)
            continue
        }

        /* give up on this one */
        failed = append(failed, r)
    }

    /* keep the order stable */
    sortRegs(failed)
    return failed
}
