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
    `sort`

    `github.com/cloudwego/wavegen/internal/mir`
    mapset `github.com/deckarep/golang-set/v2`
)

// RegisterCoalescer joins the two sides of virtual register copies whose
// live intervals do not interfere, and removes the copies.
type RegisterCoalescer struct{}

func (RegisterCoalescer) Apply(fn *mir.Function) {
    if Coalesce(fn) != 0 {
        fn.Invalidate()
    }
}

type _Coalescer struct {
    fn     *mir.Function
    segs   map[mir.Reg][]mir.Segment
    alias  map[mir.Reg]mir.Reg
    joined mapset.Set[mir.Reg]
}

// Coalesce runs the coalescer and returns the number of removed copies.
func Coalesce(fn *mir.Function) int {
    var rm []*mir.Instr
    ivs := fn.Intervals()

    /* the working state */
    cc := &_Coalescer {
        fn     : fn,
        segs   : make(map[mir.Reg][]mir.Segment, len(ivs.VRegs)),
        alias  : make(map[mir.Reg]mir.Reg),
        joined : mapset.NewThreadUnsafeSet[mir.Reg](),
    }

    /* copy the segments, they are merged as registers are joined */
    for r, iv := range ivs.VRegs {
        cc.segs[r] = append([]mir.Segment(nil), iv.Segs...)
    }

    /* try every copy in layout order */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        if ins.Op == mir.COPY && cc.join(ins) {
            rm = append(rm, ins)
        }
    })

    /* nothing was joined */
    if len(rm) == 0 {
        return 0
    }

    /* remove the copies */
    for _, ins := range rm {
        ins.Block.Remove(ins)
    }

    /* rename the joined registers */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachReg(func(p *mir.Operand) {
            if p.Reg.IsVirtual() && cc.joined.Contains(p.Reg) {
                p.Reg = cc.find(p.Reg)
            }
        })
    })

    /* all done */
    return len(rm)
}

func (self *_Coalescer) find(r mir.Reg) mir.Reg {
    for {
        if p, ok := self.alias[r]; !ok {
            return r
        } else {
            r = p
        }
    }
}

func (self *_Coalescer) join(ins *mir.Instr) bool {
    dst, src := &ins.Args[0], &ins.Args[1]
    if !dst.IsVirtual() || !src.IsVirtual() || dst.IsPartial() || src.IsPartial() {
        return false
    }

    /* resolve the registers joined so far */
    d := self.find(dst.Reg)
    s := self.find(src.Reg)

    /* already the same register */
    if d == s {
        return true
    }

    /* the registers must be interchangeable */
    if self.fn.ClassOf(d) != self.fn.ClassOf(s) || self.fn.VReg(d).Flags != self.fn.VReg(s).Flags {
        return false
    }

    /* and must not be live at the same time */
    if overlaps(self.segs[d], self.segs[s]) {
        return false
    }

    /* join the destination into the source */
    self.alias[d] = s
    self.joined.Add(d)
    self.segs[s] = union(self.segs[s], self.segs[d])
    delete(self.segs, d)
    return true
}

func overlaps(a []mir.Segment, b []mir.Segment) bool {
    x := mir.Interval { Segs: a }
    y := mir.Interval { Segs: b }
    return x.Overlaps(&y)
}

func union(a []mir.Segment, b []mir.Segment) []mir.Segment {
    ret := append(append([]mir.Segment(nil), a...), b...)
    sort.Slice(ret, func(i, j int) bool { return ret[i].Start < ret[j].Start })

    /* merge the touching segments */
    out := ret[:0]
    for _, s := range ret {
        if n := len(out); n != 0 && s.Start <= out[n - 1].End {
            if s.End > out[n - 1].End {
                out[n - 1].End = s.End
            }
        } else {
            out = append(out, s)
        }
    }
    return out
}
