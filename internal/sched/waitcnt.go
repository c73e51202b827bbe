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
    `github.com/cloudwego/wavegen/internal/mir`
)

const (
    VMCntMax   = 63
    LGKMCntMax = 15
    NoWait     = -1
)

// EncodeWaitcnt packs the counter thresholds of an S_WAITCNT. NoWait leaves
// a counter unconstrained, 0 waits for every outstanding access.
func EncodeWaitcnt(vm int, lgkm int) int64 {
    if vm < 0 || vm > VMCntMax {
        vm = VMCntMax
    }
    if lgkm < 0 || lgkm > LGKMCntMax {
        lgkm = LGKMCntMax
    }
    return int64(vm) | int64(lgkm) << 8
}

// DecodeWaitcnt unpacks an S_WAITCNT immediate.
func DecodeWaitcnt(imm int64) (int, int) {
    return int(imm & 0x3f), int((imm >> 8) & 0xf)
}

const (
    _CntVM = iota
    _CntLGKM
    _CntMax
)

var _CntLimits = [_CntMax]int {
    _CntVM   : VMCntMax,
    _CntLGKM : LGKMCntMax,
}

// _Pending maps every register unit written by an outstanding load to the
// number of younger loads of the same counter.
type _Pending [_CntMax]map[uint]int

func newPending() *_Pending {
    ret := new(_Pending)
    for i := range ret {
        ret[i] = make(map[uint]int)
    }
    return ret
}

func (self *_Pending) clone() *_Pending {
    ret := newPending()
    for i, m := range self {
        for k, v := range m {
            ret[i][k] = v
        }
    }
    return ret
}

func (self *_Pending) equal(other *_Pending) bool {
    for i, m := range self {
        if len(m) != len(other[i]) {
            return false
        }
        for k, v := range m {
            if w, ok := other[i][k]; !ok || w != v {
                return false
            }
        }
    }
    return true
}

// merge keeps the most demanding distance of every unit.
func (self *_Pending) merge(other *_Pending) {
    for i, m := range other {
        for k, v := range m {
            if w, ok := self[i][k]; !ok || v < w {
                self[i][k] = v
            }
        }
    }
}

// wait retires the loads with at least n younger ones.
func (self *_Pending) wait(c int, n int) {
    for k, v := range self[c] {
        if v >= n {
            delete(self[c], k)
        }
    }
}

// issue records a new load of counter c.
func (self *_Pending) issue(c int, ins *mir.Instr) {
    m := self[c]
    for k, v := range m {
        if v + 1 >= _CntLimits[c] {
            delete(m, k)
        } else {
            m[k] = v + 1
        }
    }
    ins.ForEachDef(func(p *mir.Operand) {
        if p.Reg.IsPhysical() {
            for _, u := range p.PhysReg().Units() {
                m[uint(u.Key())] = 0
            }
        }
    })
}

func counterOf(ins *mir.Instr) int {
    switch {
        case !ins.MayLoad() || ins.Info().Defs == 0 : return -1
        case ins.Is(mir.F_SMEM)                     : return _CntLGKM
        case ins.Is(mir.F_VMEM)                     : return _CntVM
        default                                     : return -1
    }
}

// needed computes the thresholds required before ins, NoWait when a counter
// is not involved.
func (self *_Pending) needed(ins *mir.Instr) [_CntMax]int {
    ret := [_CntMax]int { NoWait, NoWait }

    /* calls and returns wait for everything */
    if ins.IsCall() || ins.Is(mir.F_Return) {
        for c, m := range self {
            if len(m) != 0 {
                ret[c] = 0
            }
        }
        return ret
    }

    /* any access to a pending unit */
    ins.ForEachReg(func(p *mir.Operand) {
        if !p.Reg.IsPhysical() {
            return
        }
        for _, u := range p.PhysReg().Units() {
            for c, m := range self {
                if d, ok := m[uint(u.Key())]; ok && (ret[c] == NoWait || d < ret[c]) {
                    ret[c] = d
                }
            }
        }
    })
    return ret
}

// transfer runs a block over the pending state. When insert is set, the
// required S_WAITCNT instructions are added to the block.
func (self *_Pending) transfer(bb *mir.Block, insert bool) bool {
    ok := false
    for i := 0; i < len(bb.Ins); i++ {
        ins := bb.Ins[i]

        /* an explicit wait */
        if ins.Op == mir.S_WAITCNT {
            vm, lgkm := DecodeWaitcnt(ins.Args[0].Imm)
            self.wait(_CntVM, vm)
            self.wait(_CntLGKM, lgkm)
            continue
        }

        /* wait for the pending results */
        if n := self.needed(ins); n[_CntVM] != NoWait || n[_CntLGKM] != NoWait {
            for c, v := range n {
                if v != NoWait {
                    self.wait(c, v)
                }
            }
            if insert {
                bb.Insert(i, mir.NewInstr(mir.S_WAITCNT, mir.Imm(EncodeWaitcnt(n[_CntVM], n[_CntLGKM]))))
                i++
                ok = true
            }
        }

        /* a new outstanding load */
        if c := counterOf(ins); c >= 0 {
            self.issue(c, ins)
        }
    }
    return ok
}

// InsertWaitcnts inserts an S_WAITCNT before the first access to the result
// of an outstanding memory load. Loads complete in order per counter, the
// state is merged at joins until a fixed point.
type InsertWaitcnts struct{}

func (InsertWaitcnts) Apply(fn *mir.Function) {
    in := make(map[*mir.Block]*_Pending, len(fn.Blocks))
    out := make(map[*mir.Block]*_Pending, len(fn.Blocks))

    /* initial states */
    for _, bb := range fn.Blocks {
        in[bb] = newPending()
    }

    /* iterate to the fixed point */
    rpo := mir.ReversePostOrder(fn)
    for changed := true; changed; {
        changed = false
        for _, bb := range rpo {
            st := newPending()
            for _, p := range bb.Pred {
                if o, ok := out[p]; ok {
                    st.merge(o)
                }
            }

            /* transfer the block */
            in[bb] = st.clone()
            st.transfer(bb, false)
            if o, ok := out[bb]; !ok || !o.equal(st) {
                out[bb] = st
                changed = true
            }
        }
    }

    /* insert the waits */
    ok := false
    for _, bb := range fn.Blocks {
        if in[bb].clone().transfer(bb, true) {
            ok = true
        }
    }

    /* the instruction list changed */
    if ok {
        fn.Invalidate()
    }
}
