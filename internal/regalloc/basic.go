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
    `math`

    `github.com/oleiade/lane`

    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/target`
)

const (
    _MaxPriority = 1 << 40
)

// priority maps spill weights onto the integer priorities of the queue.
func priority(w float64) int {
    if w = math.Round(w * 1000); w > _MaxPriority {
        return _MaxPriority
    } else {
        return int(w)
    }
}

func enqueue(ctx *_Context, q *lane.PQueue, regs []mir.Reg) {
    for _, r := range regs {
        q.Push(r, priority(ctx.weight(r)))
    }
}

// _Basic assigns the heaviest registers first, and spills whatever does
// not fit.
type _Basic struct {
    desc *target.Desc
    file RegisterFile
}

func newBasic(desc *target.Desc, file RegisterFile) Allocator {
    return &_Basic { desc: desc, file: file }
}

func (self *_Basic) Allocate(fn *mir.Function) {
    var spill []mir.Reg
    regs := vregsOf(fn, self.file)

    /* nothing to allocate */
    if len(regs) == 0 {
        return
    }

    /* build the queue */
    ctx := newContext(self.desc, self.file, fn)
    ctx.rebuild()
    q := lane.NewPQueue(lane.MAXPQ)
    enqueue(ctx, q, regs)

    /* assign in priority order */
    for q.Size() != 0 {
        v, _ := q.Pop()
        if r := v.(mir.Reg); !ctx.tryAssign(r) {
            spill = append(spill, r)
        }
    }

    /* spill the rest */
    sortRegs(spill)
    NewSpiller(self.desc, self.file, fn).Spill(spill)
}
