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

package sched

import (
    `github.com/containerd/log`

    `github.com/cloudwego/wavegen/internal/metrics`
    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/target`
)

const (
    _MaxNopWaits = 8
)

// HazardRecognizer inserts S_NOP wait states in front of every consumer
// issued too early after its producer. The search covers the whole block
// and continues into the tails of the predecessors, so it holds regardless
// of how the regions were scheduled.
type HazardRecognizer struct {
    Target *target.Desc
}

type _HazardSearch struct {
    hz   *target.Hazard
    cons *mir.Instr
    seen map[*mir.Block]int
}

// missing returns the wait states still required before ins[pos] of bb,
// given the waits already counted below it.
func (self *_HazardSearch) missing(bb *mir.Block, pos int, waits int) int {
    ret := 0
    for i := pos - 1; i >= 0 && waits < self.hz.Waits; i-- {
        p := bb.Ins[i]
        if self.hz.Producer(p) && self.hz.Consumer(p, self.cons) {
            return self.hz.Waits - waits
        }
        waits += p.WaitStates()
    }

    /* enough wait states within the block */
    if waits >= self.hz.Waits {
        return 0
    }

    /* continue into the predecessors, revisiting only with fewer waits */
    for _, pred := range bb.Pred {
        if w, ok := self.seen[pred]; ok && w <= waits {
            continue
        }
        self.seen[pred] = waits
        if n := self.missing(pred, len(pred.Ins), waits); n > ret {
            ret = n
        }
    }
    return ret
}

func (self HazardRecognizer) required(bb *mir.Block, i int) int {
    ret := 0
    ins := bb.Ins[i]

    /* the worst hazard wins */
    for j := range self.Target.Hazards {
        hz := &self.Target.Hazards[j]
        st := &_HazardSearch { hz: hz, cons: ins, seen: make(map[*mir.Block]int) }
        if n := st.missing(bb, i, 0); n > ret {
            ret = n
        }
    }
    return ret
}

func (self HazardRecognizer) Apply(fn *mir.Function) {
    nops := 0
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            n := self.required(bb, i)

            /* no hazard */
            if n == 0 {
                continue
            }

            /* a single S_NOP covers up to 8 wait states */
            var buf []*mir.Instr
            for ; n > 0; n -= _MaxNopWaits {
                w := n
                if w > _MaxNopWaits {
                    w = _MaxNopWaits
                }
                buf = append(buf, mir.NewInstr(mir.S_NOP, mir.Imm(int64(w - 1))))
            }

            /* insert in front of the consumer */
            bb.Insert(i, buf...)
            i += len(buf)
            nops += len(buf)
        }
    }

    /* the instruction list changed */
    if nops != 0 {
        metrics.HazardNops.Add(float64(nops))
        log.L.WithField("func", fn.Name).Debugf("inserted %d wait state nops", nops)
        fn.Invalidate()
    }
}
