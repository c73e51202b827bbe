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
    `github.com/google/btree`

    `github.com/cloudwego/wavegen/internal/mir`
)

const (
    _BTreeDegree = 8
)

type _Seg struct {
    start int
    end   int
    owner mir.Reg
}

func segLess(a _Seg, b _Seg) bool {
    return a.start < b.start
}

// _LiveUnion holds the disjoint live segments assigned to every register
// unit, fixed physical registers included (with owner NoReg).
type _LiveUnion struct {
    units map[mir.Unit]*btree.BTreeG[_Seg]
}

func newLiveUnion() *_LiveUnion {
    return &_LiveUnion { units: make(map[mir.Unit]*btree.BTreeG[_Seg]) }
}

func (self *_LiveUnion) tree(u mir.Unit) *btree.BTreeG[_Seg] {
    if t, ok := self.units[u]; ok {
        return t
    } else {
        t = btree.NewG[_Seg](_BTreeDegree, segLess)
        self.units[u] = t
        return t
    }
}

func (self *_LiveUnion) insert(u mir.Unit, iv *mir.Interval, owner mir.Reg) {
    t := self.tree(u)
    for _, s := range iv.Segs {
        t.ReplaceOrInsert(_Seg { s.Start, s.End, owner })
    }
}

func (self *_LiveUnion) remove(u mir.Unit, iv *mir.Interval) {
    if t, ok := self.units[u]; ok {
        for _, s := range iv.Segs {
            t.Delete(_Seg { start: s.Start })
        }
    }
}

// interferes calls fn for every segment of the unit overlapping the
// interval, and stops when fn returns false.
func (self *_LiveUnion) interferes(u mir.Unit, iv *mir.Interval, fn func(s _Seg) bool) {
    t, ok := self.units[u]
    if !ok {
        return
    }

    /* segments are disjoint, so the ends grow with the starts */
    for _, s := range iv.Segs {
        stop := false
        t.DescendLessOrEqual(_Seg { start: s.End - 1 }, func(v _Seg) bool {
            if v.end <= s.Start {
                return false
            } else if !fn(v) {
                stop = true
                return false
            } else {
                return true
            }
        })

        /* stopped by the callback */
        if stop {
            return
        }
    }
}

// free reports whether no unit of r is live anywhere in the interval.
func (self *_LiveUnion) free(r mir.Reg, iv *mir.Interval) bool {
    ok := true
    for _, u := range r.Units() {
        self.interferes(u, iv, func(_ _Seg) bool { ok = false; return false })
        if !ok {
            break
        }
    }
    return ok
}

// owners lists the virtual registers interfering with the interval in r,
// and whether a fixed register interferes.
func (self *_LiveUnion) owners(r mir.Reg, iv *mir.Interval) ([]mir.Reg, bool) {
    var ret []mir.Reg
    seen := make(map[mir.Reg]bool)
    fixed := false

    /* collect the owners of every overlapping segment */
    for _, u := range r.Units() {
        self.interferes(u, iv, func(s _Seg) bool {
            if s.owner == mir.NoReg {
                fixed = true
                return false
            }
            if !seen[s.owner] {
                seen[s.owner] = true
                ret = append(ret, s.owner)
            }
            return true
        })
    }

    /* keep the order stable */
    sortRegs(ret)
    return ret, fixed
}
