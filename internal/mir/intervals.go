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

package mir

import (
    `fmt`
    `math`
    `sort`
    `strings`
)

// Segment is a half-open range of slot indexes [Start, End). Every
// instruction occupies two slots: 2k for its uses and 2k+1 for its defs.
type Segment struct {
    Start int
    End   int
}

// Interval is the live range of a register.
type Interval struct {
    Reg    Reg
    Unit   Unit
    Segs   []Segment
    Weight float64
    Uses   int
}

func (self *Interval) String() string {
    buf := make([]string, len(self.Segs))
    for i, s := range self.Segs { buf[i] = fmt.Sprintf("[%d,%d)", s.Start, s.End) }
    return fmt.Sprintf("%s %s", self.Reg, strings.Join(buf, " "))
}

func (self *Interval) Empty() bool {
    return len(self.Segs) == 0
}

func (self *Interval) Start() int {
    return self.Segs[0].Start
}

func (self *Interval) End() int {
    return self.Segs[len(self.Segs) - 1].End
}

// Covers reports whether the slot lies inside the interval.
func (self *Interval) Covers(slot int) bool {
    i := sort.Search(len(self.Segs), func(i int) bool { return self.Segs[i].End > slot })
    return i < len(self.Segs) && self.Segs[i].Start <= slot
}

// Overlaps reports whether two intervals share a slot.
func (self *Interval) Overlaps(other *Interval) bool {
    i, j := 0, 0
    a, b := self.Segs, other.Segs

    /* merge-walk over both segment lists */
    for i < len(a) && j < len(b) {
        if a[i].End <= b[j].Start {
            i++
        } else if b[j].End <= a[i].Start {
            j++
        } else {
            return true
        }
    }
    return false
}

// Spillable reports whether spilling the register could free it. Tiny
// intervals between a def and an adjacent use cannot shrink any further.
func (self *Interval) Spillable() bool {
    return self.Weight != math.Inf(1)
}

func (self *Interval) add(start int, end int) {
    self.Segs = append(self.Segs, Segment { start, end })
}

func (self *Interval) normalize() {
    sort.Slice(self.Segs, func(i, j int) bool { return self.Segs[i].Start < self.Segs[j].Start })
    out := self.Segs[:0]

    /* merge the touching and overlapping segments */
    for _, s := range self.Segs {
        if n := len(out); n != 0 && s.Start <= out[n - 1].End {
            if s.End > out[n - 1].End {
                out[n - 1].End = s.End
            }
        } else {
            out = append(out, s)
        }
    }
    self.Segs = out
}

// Intervals is the live interval analysis of a function.
type Intervals struct {
    VRegs map[Reg]*Interval
    Units map[Unit]*Interval
    index map[*Instr]int
    order []*Instr
    start map[int]int
    end   map[int]int
}

// Intervals returns the cached live intervals, recomputing them when stale.
func (self *Function) Intervals() *Intervals {
    if self.ivs == nil {
        self.ivs = computeIntervals(self)
    }
    return self.ivs
}

// UseSlot is the slot at which the instruction reads its operands.
func (self *Intervals) UseSlot(ins *Instr) int {
    if i, ok := self.index[ins]; !ok {
        panic("mir: instruction is not numbered: " + ins.Op.String())
    } else {
        return i * 2
    }
}

// DefSlot is the slot at which the instruction writes its results.
func (self *Intervals) DefSlot(ins *Instr) int {
    return self.UseSlot(ins) + 1
}

// BlockStart is the first slot of a block.
func (self *Intervals) BlockStart(bb *Block) int {
    return self.start[bb.Id]
}

// BlockEnd is the slot past the end of a block.
func (self *Intervals) BlockEnd(bb *Block) int {
    return self.end[bb.Id]
}

// InstrAt returns the instruction covering a slot.
func (self *Intervals) InstrAt(slot int) *Instr {
    if i := slot / 2; i < 0 || i >= len(self.order) {
        return nil
    } else {
        return self.order[i]
    }
}

// Get returns the interval of a virtual register, nil if it is never live.
func (self *Intervals) Get(r Reg) *Interval {
    return self.VRegs[r]
}

// Sorted lists the virtual register intervals ordered by register index.
func (self *Intervals) Sorted() []*Interval {
    ret := make([]*Interval, 0, len(self.VRegs))
    for _, iv := range self.VRegs { ret = append(ret, iv) }
    sort.Slice(ret, func(i, j int) bool { return ret[i].Reg.Index() < ret[j].Reg.Index() })
    return ret
}

type _LiveScan struct {
    ivs  *Intervals
    ends map[Reg]int
    uend map[Unit]int
}

func computeIntervals(fn *Function) *Intervals {
    lv := fn.Liveness()
    lp := fn.Loops()

    /* the result */
    ret := &Intervals {
        VRegs : make(map[Reg]*Interval),
        Units : make(map[Unit]*Interval),
        index : make(map[*Instr]int),
        start : make(map[int]int, len(fn.Blocks)),
        end   : make(map[int]int, len(fn.Blocks)),
    }

    /* number the instructions */
    for _, bb := range fn.Blocks {
        ret.start[bb.Id] = len(ret.order) * 2
        for _, ins := range bb.Ins {
            ret.index[ins] = len(ret.order)
            ret.order = append(ret.order, ins)
        }
        ret.end[bb.Id] = len(ret.order) * 2
    }

    /* scan every block backwards */
    for _, bb := range fn.Blocks {
        scanBlock(ret, fn, bb, lv, math.Pow(10, float64(lp.Depth(bb))))
    }

    /* merge the segments */
    for _, iv := range ret.VRegs { iv.normalize() }
    for _, iv := range ret.Units { iv.normalize() }

    /* normalize the spill weights by interval length */
    for _, iv := range ret.VRegs {
        if n := iv.End() - iv.Start(); n <= 2 && iv.Uses != 0 {
            iv.Weight = math.Inf(1)
        } else {
            iv.Weight /= float64(n)
        }
    }

    /* all done */
    return ret
}

func (self *_LiveScan) vreg(r Reg) *Interval {
    if iv, ok := self.ivs.VRegs[r]; ok {
        return iv
    } else {
        iv = &Interval { Reg: r }
        self.ivs.VRegs[r] = iv
        return iv
    }
}

func (self *_LiveScan) unit(u Unit) *Interval {
    if iv, ok := self.ivs.Units[u]; ok {
        return iv
    } else {
        iv = &Interval { Reg: Phys(u.File, u.Num, 1), Unit: u }
        self.ivs.Units[u] = iv
        return iv
    }
}

func scanBlock(ivs *Intervals, fn *Function, bb *Block, lv *Liveness, freq float64) {
    bs := ivs.start[bb.Id]
    be := ivs.end[bb.Id]
    st := &_LiveScan { ivs: ivs, ends: make(map[Reg]int), uend: make(map[Unit]int) }

    /* everything live-out extends to the end of the block */
    for k, ok := lv.LiveOut(bb).NextSet(0); ok; k, ok = lv.LiveOut(bb).NextSet(k + 1) {
        if r, virt := KeyReg(k); virt {
            st.ends[r] = be
        } else {
            st.uend[Unit { RegFile(k >> 8), int(k & 0xff) }] = be
        }
    }

    /* walk the instructions backwards */
    for i := len(bb.Ins) - 1; i >= 0; i-- {
        ins := bb.Ins[i]
        use := ivs.index[ins] * 2
        def := use + 1

        /* defs end the live ranges */
        ins.ForEachDef(func(p *Operand) {
            if p.Reg.IsVirtual() {
                iv := st.vreg(p.Reg)
                iv.Weight += freq
                iv.Uses++

                /* partial defs keep the register alive */
                if end, ok := st.ends[p.Reg]; ok {
                    iv.add(def, end)
                    if !p.IsPartial() {
                        delete(st.ends, p.Reg)
                    }
                } else {
                    iv.add(def, def + 1)
                }
            } else {
                for _, u := range p.PhysReg().Units() {
                    if end, ok := st.uend[u]; ok {
                        st.unit(u).add(def, end)
                        delete(st.uend, u)
                    } else {
                        st.unit(u).add(def, def + 1)
                    }
                }
            }
        })

        /* uses start them */
        if ins.Op != PHI {
            ins.ForEachUse(func(p *Operand) {
                if p.IsUndef() {
                    return
                }
                if p.Reg.IsVirtual() {
                    iv := st.vreg(p.Reg)
                    iv.Weight += freq
                    iv.Uses++
                    if _, ok := st.ends[p.Reg]; !ok {
                        st.ends[p.Reg] = use + 1
                    }
                } else {
                    for _, u := range p.PhysReg().Units() {
                        if _, ok := st.uend[u]; !ok {
                            st.uend[u] = use + 1
                        }
                    }
                }
            })
        }
    }

    /* everything still alive is live-in */
    for r, end := range st.ends {
        st.vreg(r).add(bs, end)
    }
    for u, end := range st.uend {
        st.unit(u).add(bs, end)
    }
}
