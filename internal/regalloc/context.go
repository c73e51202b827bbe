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
    `fmt`

    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/target`
)

const (
    _MaxEvictions = 8
)

// _Context is the allocation state shared by every strategy.
type _Context struct {
    fn    *mir.Function
    desc  *target.Desc
    file  RegisterFile
    vrm   *mir.VirtRegMap
    ivs   *mir.Intervals
    union *_LiveUnion
    evict map[mir.Reg]int
}

func newContext(desc *target.Desc, file RegisterFile, fn *mir.Function) *_Context {
    return &_Context {
        fn    : fn,
        desc  : desc,
        file  : file,
        vrm   : fn.RegMap(),
        evict : make(map[mir.Reg]int),
    }
}

// rebuild recomputes the intervals, and fills the live union with the fixed
// registers and the registers assigned so far.
func (self *_Context) rebuild() {
    self.ivs = self.fn.Intervals()
    self.union = newLiveUnion()

    /* fixed physical registers */
    for u, iv := range self.ivs.Units {
        self.union.insert(u, iv, mir.NoReg)
    }

    /* virtual registers of this file which are already assigned */
    for r, iv := range self.ivs.VRegs {
        if p := self.vrm.Phys(r); p != mir.NoReg && Classify(self.fn, r) == self.file {
            for _, u := range p.Units() {
                self.union.insert(u, iv, r)
            }
        }
    }
}

// interval returns the live interval of r; registers that are never live
// get an empty one.
func (self *_Context) interval(r mir.Reg) *mir.Interval {
    if iv := self.ivs.Get(r); iv != nil {
        return iv
    } else {
        return &mir.Interval { Reg: r }
    }
}

func (self *_Context) weight(r mir.Reg) float64 {
    return self.interval(r).Weight
}

// candidates lists the registers r may be assigned to, in allocation order.
func (self *_Context) candidates(r mir.Reg) []mir.Reg {
    var ret []mir.Reg
    w := self.fn.ClassOf(r).Width()
    f := self.file.File()
    n := self.desc.NumRegs(f)
    a := self.desc.Alignment(f, w)

    /* every aligned tuple inside the allocatable range */
    for i := 0; i + w <= n; i += a {
        if p := mir.Phys(f, i, w); !self.fn.Info.IsReserved(p) {
            ret = append(ret, p)
        }
    }
    return ret
}

func (self *_Context) assign(r mir.Reg, p mir.Reg) {
    iv := self.interval(r)
    self.vrm.Assign(r, p)
    for _, u := range p.Units() {
        self.union.insert(u, iv, r)
    }
}

func (self *_Context) unassign(r mir.Reg) {
    p := self.vrm.Phys(r)
    if p == mir.NoReg {
        panic(fmt.Sprintf("regalloc: %s is not assigned", r))
    }

    /* drop the segments from the union */
    iv := self.interval(r)
    for _, u := range p.Units() {
        self.union.remove(u, iv)
    }

    /* drop the assignment */
    self.vrm.Unassign(r)
    self.evict[r]++
}

// tryAssign assigns r to the first free candidate.
func (self *_Context) tryAssign(r mir.Reg) bool {
    iv := self.interval(r)
    for _, p := range self.candidates(r) {
        if self.union.free(p, iv) {
            self.assign(r, p)
            return true
        }
    }
    return false
}

// tryEvict assigns r to the candidate whose interfering registers are all
// lighter than r and cheapest to evict, and returns the evicted registers.
func (self *_Context) tryEvict(r mir.Reg) ([]mir.Reg, bool) {
    var best mir.Reg
    var evict []mir.Reg

    /* the heaviest registers never move */
    iv := self.interval(r)
    wr := iv.Weight
    cost := -1.0

    /* find the cheapest candidate */
    for _, p := range self.candidates(r) {
        regs, fixed := self.union.owners(p, iv)
        if fixed {
            continue
        }

        /* every interfering register must be lighter and still movable */
        sum, ok := 0.0, true
        for _, v := range regs {
            if w := self.weight(v); w >= wr || self.evict[v] >= _MaxEvictions {
                ok = false
                break
            } else {
                sum += w
            }
        }

        /* keep the cheapest one */
        if ok && (cost < 0 || sum < cost) {
            best, evict, cost = p, regs, sum
        }
    }

    /* nothing can be evicted */
    if cost < 0 {
        return nil, false
    }

    /* evict the registers */
    for _, v := range evict {
        self.unassign(v)
    }

    /* assign the register */
    self.assign(r, best)
    return evict, true
}
