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

    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/target`
    `github.com/cloudwego/wavegen/internal/utils`
)

// Region is a range [Begin, End) of a block free of scheduling barriers.
type Region struct {
    Block *mir.Block
    Begin int
    End   int
}

func (self Region) Instrs() []*mir.Instr {
    return self.Block.Ins[self.Begin:self.End]
}

// IsBarrier reports whether nothing may be moved across the instruction.
func IsBarrier(ins *mir.Instr) bool {
    return ins.IsTerminator() ||
           ins.IsMarker()     ||
           ins.IsCall()       ||
           ins.WritesExec()   ||
           ins.Is(mir.F_SideEffects)
}

// Regions splits a block at its barriers, in program order.
func Regions(bb *mir.Block) []Region {
    var ret []Region
    begin := 0

    /* close a region at every barrier */
    for i, ins := range bb.Ins {
        if IsBarrier(ins) {
            if i > begin {
                ret = append(ret, Region { bb, begin, i })
            }
            begin = i + 1
        }
    }

    /* trailing region */
    if begin < len(bb.Ins) {
        ret = append(ret, Region { bb, begin, len(bb.Ins) })
    }
    return ret
}

// Schedule orders the instructions of a region from the bottom up. The
// returned slice is a permutation of the input.
func Schedule(desc *target.Desc, s Strategy, ins []*mir.Instr) []*mir.Instr {
    if len(ins) < 2 {
        return ins
    }

    /* build the graph */
    var ready []*Node
    dag := BuildDAG(desc, ins)
    for _, n := range dag.Nodes {
        if n.left = len(n.Succs); n.left == 0 {
            ready = append(ready, n)
        }
    }

    /* place the nodes */
    st := newState(desc)
    ret := make([]*mir.Instr, len(ins))
    for k := len(ins) - 1; k >= 0; k-- {
        if len(ready) == 0 {
            panic("sched: cyclic dependence graph")
        }

        /* take the best node */
        i := st.pick(s, ready)
        n := ready[i]
        ready = append(ready[:i], ready[i + 1:]...)

        /* place it, and release its predecessors */
        ret[k] = n.Ins
        st.place(n)
        for _, e := range n.Preds {
            if e.Node.left--; e.Node.left == 0 {
                ready = append(ready, e.Node)
            }
        }
    }

    /* kill flags follow the last reader */
    fixKills(ret)
    return ret
}

func readsOperand(ins *mir.Instr, r mir.Reg) bool {
    for i := range ins.Args {
        if p := &ins.Args[i]; p.IsReg() && p.IsUse() && p.Reg == r {
            return true
        }
    }
    return false
}

func definesOperand(ins *mir.Instr, r mir.Reg) bool {
    for i := range ins.Args {
        if p := &ins.Args[i]; p.IsReg() && p.IsDef() && p.Reg == r {
            return true
        }
    }
    return false
}

func setKill(ins *mir.Instr, r mir.Reg, v bool) {
    for i := range ins.Args {
        if p := &ins.Args[i]; p.IsReg() && p.IsUse() && p.Reg == r {
            p.SetFlag(mir.OpKill, v)
        }
    }
}

// fixKills moves every kill flag to the last reader of the value in the new
// order.
func fixKills(ins []*mir.Instr) {
    for i, p := range ins {
        for j := range p.Args {
            a := &p.Args[j]
            if !a.IsReg() || !a.IsUse() || !a.IsKill() {
                continue
            }

            /* find the last reader before a redefinition */
            r := a.Reg
            last := -1
            for k := i + 1; k < len(ins); k++ {
                if readsOperand(ins[k], r) {
                    last = k
                }
                if definesOperand(ins[k], r) {
                    break
                }
            }

            /* move the flag */
            if last >= 0 {
                setKill(p, r, false)
                setKill(ins[last], r, true)
            }
        }
    }
}

func run(fn *mir.Function, desc *target.Desc, name string) {
    ok := false
    s, err := NewStrategy(name)

    /* unknown strategy */
    if err != nil {
        utils.Fatal(err)
    }

    /* regions are scheduled bottom-up in every block */
    for _, bb := range fn.Blocks {
        rs := Regions(bb)
        for i := len(rs) - 1; i >= 0; i-- {
            src := rs[i].Instrs()
            buf := Schedule(desc, s, append([]*mir.Instr(nil), src...))

            /* write back the new order */
            for j := range buf {
                if buf[j] != src[j] {
                    ok = true
                }
                src[j] = buf[j]
            }
        }
    }

    /* the order changed */
    if ok {
        log.L.WithField("func", fn.Name).Debugf("rescheduled with the %s strategy", name)
        fn.Invalidate()
    }
}

// MachineScheduler reorders the instructions before register allocation.
type MachineScheduler struct {
    Strategy string
    Target   *target.Desc
}

func (self MachineScheduler) Apply(fn *mir.Function) {
    run(fn, self.Target, self.Strategy)
}

// PostRAScheduler reorders the allocated instructions.
type PostRAScheduler struct {
    Strategy string
    Target   *target.Desc
}

func (self PostRAScheduler) Apply(fn *mir.Function) {
    run(fn, self.Target, self.Strategy)
}
