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

package cflow

import (
    `fmt`
    `sort`
    `strings`

    `github.com/oleiade/lane`
    `github.com/pkg/errors`

    `github.com/cloudwego/wavegen/internal/mir`
)

const (
    _DefaultLanes = 3
    _MaxSteps     = 4096
    _MaxStates    = 1 << 16
)

type _SCC uint8

const (
    _SCCUnknown _SCC = iota
    _SCCZero
    _SCCOne
)

type _LaneState struct {
    bb    *mir.Block
    pc    int
    exec  uint64
    scc   _SCC
    regs  map[mir.Reg]uint64
    entry map[int64]uint64
    steps int
}

func (self *_LaneState) fork() *_LaneState {
    ret := *self
    ret.regs = make(map[mir.Reg]uint64, len(self.regs))
    ret.entry = make(map[int64]uint64, len(self.entry))
    for k, v := range self.regs { ret.regs[k] = v }
    for k, v := range self.entry { ret.entry[k] = v }
    return &ret
}

func (self *_LaneState) key() string {
    var sb strings.Builder
    rk := make([]mir.Reg, 0, len(self.regs))
    ek := make([]int64, 0, len(self.entry))

    /* sort the keys */
    for k := range self.regs { rk = append(rk, k) }
    for k := range self.entry { ek = append(ek, k) }
    sort.Slice(rk, func(i int, j int) bool { return rk[i] < rk[j] })
    sort.Slice(ek, func(i int, j int) bool { return ek[i] < ek[j] })

    /* dump the state */
    fmt.Fprintf(&sb, "%d:%d:%x:%d", self.bb.Id, self.pc, self.exec, self.scc)
    for _, k := range rk { fmt.Fprintf(&sb, ",r%d=%x", k, self.regs[k]) }
    for _, k := range ek { fmt.Fprintf(&sb, ",e%d=%x", k, self.entry[k]) }
    return sb.String()
}

type _ExecChecker struct {
    fn    *mir.Function
    full  uint64
    stack *lane.Stack
    seen  map[string]bool
}

// CheckExecRegions verifies that the exec mask at every region exit equals
// the exec mask at the matching region entry, on every path, by simulating
// a small wave.
func CheckExecRegions(fn *mir.Function) error {
    return CheckExecRegionsWidth(fn, _DefaultLanes)
}

// CheckExecRegionsWidth is CheckExecRegions with an explicit wave width.
func CheckExecRegionsWidth(fn *mir.Function, lanes int) error {
    if lanes <= 0 || lanes > 16 {
        panic(fmt.Sprintf("cflow: invalid wave width %d", lanes))
    }

    /* nothing to check */
    if len(fn.Blocks) == 0 {
        return nil
    }

    /* start with every non-empty exec mask */
    ck := &_ExecChecker {
        fn    : fn,
        full  : (1 << uint(lanes)) - 1,
        stack : lane.NewStack(),
        seen  : make(map[string]bool),
    }
    for m := uint64(1); m <= ck.full; m++ {
        ck.stack.Push(&_LaneState {
            bb    : fn.Entry(),
            exec  : m,
            regs  : make(map[mir.Reg]uint64),
            entry : make(map[int64]uint64),
        })
    }

    /* explore the paths */
    for !ck.stack.Empty() && len(ck.seen) < _MaxStates {
        st := ck.stack.Pop().(*_LaneState)
        if err := ck.run(st); err != nil {
            return err
        }
    }
    return nil
}

func (self *_ExecChecker) push(st *_LaneState) {
    if st.steps < _MaxSteps {
        self.stack.Push(st)
    }
}

func (self *_ExecChecker) run(st *_LaneState) error {
    for {
        key := st.key()
        if self.seen[key] || st.steps >= _MaxSteps {
            return nil
        }

        /* mark as visited */
        self.seen[key] = true
        st.steps++

        /* fell off the end of the block */
        if st.pc >= len(st.bb.Ins) {
            if st.bb = st.bb.Next(); st.bb == nil {
                return nil
            } else {
                st.pc = 0
                continue
            }
        }

        /* fork on unknown mask inputs */
        ins := st.bb.Ins[st.pc]
        if r, ok := self.unknownInput(st, ins); ok {
            for v := uint64(0); v <= self.full; v++ {
                ns := st.fork()
                ns.regs[r] = v
                self.push(ns)
            }
            return nil
        }

        /* execute the instruction */
        next, err := self.step(st, ins)
        if err != nil || !next {
            return err
        }
    }
}

func (self *_ExecChecker) isMask(r mir.Reg) bool {
    switch {
        case r == mir.VCC   : return true
        case r.IsVirtual()  : return self.fn.ClassOf(r) == mir.SReg64
        case r.IsPhysical() : return r.File() == mir.FileScalar && r.Width() == 2
        default             : return false
    }
}

func (self *_ExecChecker) unknownInput(st *_LaneState, ins *mir.Instr) (mir.Reg, bool) {
    if !interpreted(ins) {
        return mir.NoReg, false
    }
    for _, p := range ins.Uses() {
        if p.IsReg() && p.Reg != mir.EXEC && p.Sub == 0 && self.isMask(p.Reg) {
            if _, ok := st.regs[p.Reg]; !ok {
                return p.Reg, true
            }
        }
    }
    return mir.NoReg, false
}

func interpreted(ins *mir.Instr) bool {
    switch ins.Op {
        case mir.S_AND_B64          : return true
        case mir.S_OR_B64           : return true
        case mir.S_XOR_B64          : return true
        case mir.S_ANDN2_B64        : return true
        case mir.S_OR_B64_term      : return true
        case mir.S_XOR_B64_term     : return true
        case mir.S_ANDN2_B64_term   : return true
        case mir.S_MOV_B64          : return true
        case mir.S_MOV_B64_term     : return true
        case mir.S_AND_SAVEEXEC_B64 : return true
        case mir.S_OR_SAVEEXEC_B64  : return true
        case mir.EXIT_STRICT_WWM    : return true
        case mir.COPY               : return true
        default                     : return false
    }
}

func (self *_ExecChecker) value(st *_LaneState, p *mir.Operand) (uint64, bool) {
    if p.IsImm() {
        return uint64(p.Imm) & self.full, true
    } else if p.Reg == mir.EXEC {
        return st.exec, true
    } else if p.Sub != 0 {
        return 0, false
    } else {
        v, ok := st.regs[p.Reg]
        return v, ok
    }
}

func (self *_ExecChecker) write(st *_LaneState, r mir.Reg, v uint64) {
    if r == mir.EXEC {
        st.exec = v
    } else if self.isMask(r) {
        st.regs[r] = v
    }
}

func (self *_ExecChecker) setSCC(st *_LaneState, v uint64) {
    if v != 0 {
        st.scc = _SCCOne
    } else {
        st.scc = _SCCZero
    }
}

func (self *_ExecChecker) binary(st *_LaneState, ins *mir.Instr) bool {
    a, ok1 := self.value(st, ins.UseAt(0))
    b, ok2 := self.value(st, ins.UseAt(1))
    if !ok1 || !ok2 {
        return false
    }

    /* compute the result */
    var v uint64
    switch ins.Op {
        case mir.S_AND_B64                        : v = a & b
        case mir.S_OR_B64, mir.S_OR_B64_term      : v = a | b
        case mir.S_XOR_B64, mir.S_XOR_B64_term    : v = a ^ b
        case mir.S_ANDN2_B64, mir.S_ANDN2_B64_term : v = a &^ b
        default                                   : panic("unreachable")
    }

    /* write the result */
    self.write(st, ins.Args[0].Reg, v)
    self.setSCC(st, v)
    return true
}

func (self *_ExecChecker) move(st *_LaneState, ins *mir.Instr) bool {
    dst := &ins.Args[0]
    if dst.Sub != 0 || (dst.Reg != mir.EXEC && !self.isMask(dst.Reg)) {
        return false
    } else if v, ok := self.value(st, ins.UseAt(0)); !ok {
        return false
    } else {
        self.write(st, dst.Reg, v)
        return true
    }
}

func (self *_ExecChecker) saveExec(st *_LaneState, ins *mir.Instr) bool {
    v, ok := self.value(st, ins.UseAt(0))
    if !ok {
        return false
    }

    /* save the old mask and update exec */
    old := st.exec
    if ins.Op == mir.S_AND_SAVEEXEC_B64 {
        st.exec &= v
    } else {
        st.exec |= v
    }

    /* SCC reflects the new mask */
    self.write(st, ins.Args[0].Reg, old)
    self.setSCC(st, st.exec)
    return true
}

// clobber forgets everything an uninterpreted instruction writes; an
// unknown exec write forks over every mask.
func (self *_ExecChecker) clobber(st *_LaneState, ins *mir.Instr) bool {
    exec := false
    kill := func(r mir.Reg) {
        switch {
            case r == mir.EXEC : exec = true
            case r == mir.SCC  : st.scc = _SCCUnknown
            default            : delete(st.regs, r)
        }
    }

    /* explicit and opcode defs */
    ins.ForEachDef(func(p *mir.Operand) { kill(p.Reg) })
    for _, r := range ins.Info().ImpDefs {
        kill(r)
    }

    /* physical tuples overlapping tracked registers */
    for r := range st.regs {
        if r.IsPhysical() && ins.WritesReg(r) {
            delete(st.regs, r)
        }
    }

    /* the new exec mask is unknown */
    if !exec {
        return true
    }
    for v := uint64(0); v <= self.full; v++ {
        ns := st.fork()
        ns.exec = v
        ns.pc++
        self.push(ns)
    }
    return false
}

func (self *_ExecChecker) branch(st *_LaneState, ins *mir.Instr) bool {
    op := ins.Op
    if ins.Is(mir.F_Long) {
        op = ins.Info().Short
    }

    /* decide whether the branch is taken */
    var taken, fall bool
    switch op {
        case mir.S_BRANCH         : taken = true
        case mir.S_CBRANCH_EXECZ  : taken = st.exec == 0
        case mir.S_CBRANCH_EXECNZ : taken = st.exec != 0
        case mir.S_CBRANCH_SCC0   : taken, fall = st.scc == _SCCZero, st.scc == _SCCUnknown
        case mir.S_CBRANCH_SCC1   : taken, fall = st.scc == _SCCOne, st.scc == _SCCUnknown
        default                   : fall = true
    }

    /* undecided branches go both ways */
    if fall {
        ns := st.fork()
        ns.bb, ns.pc = ins.Target(), 0
        self.push(ns)
        st.pc++
        return true
    }

    /* follow the branch */
    if taken {
        st.bb, st.pc = ins.Target(), 0
    } else {
        st.pc++
    }
    return true
}

func (self *_ExecChecker) step(st *_LaneState, ins *mir.Instr) (bool, error) {
    switch {
        case ins.Is(mir.F_Return): {
            return false, nil
        }

        /* unlowered control flow */
        case ins.Op >= mir.SI_IF && ins.Op <= mir.SI_END_CF: {
            return false, errors.Errorf("exec check: unlowered %s in %s of %s", ins.Info().Name, st.bb, self.fn.Name)
        }

        /* region markers */
        case ins.Op == mir.EXEC_REGION_ENTER: {
            st.entry[ins.Args[0].Imm] = st.exec
        }
        case ins.Op == mir.EXEC_REGION_EXIT: {
            if v, ok := st.entry[ins.Args[0].Imm]; ok && v != st.exec {
                return false, errors.Errorf(
                    "exec check: region %d of %s exits %s with exec %#x, entered with %#x",
                    ins.Args[0].Imm,
                    self.fn.Name,
                    st.bb,
                    st.exec,
                    v,
                )
            }
        }

        /* whole-wave sections */
        case ins.Op == mir.ENTER_STRICT_WWM: {
            self.write(st, ins.Args[0].Reg, st.exec)
            st.exec = self.full
            st.scc = _SCCUnknown
        }

        /* branches */
        case ins.IsBranch(): {
            return self.branch(st, ins), nil
        }

        /* everything else */
        default: {
            if !self.exec(st, ins) && !self.clobber(st, ins) {
                return false, nil
            }
        }
    }

    /* move to the next instruction */
    st.pc++
    return true, nil
}

func (self *_ExecChecker) exec(st *_LaneState, ins *mir.Instr) bool {
    switch ins.Op {
        case mir.S_AND_B64, mir.S_OR_B64, mir.S_XOR_B64, mir.S_ANDN2_B64 : return self.binary(st, ins)
        case mir.S_OR_B64_term, mir.S_XOR_B64_term, mir.S_ANDN2_B64_term : return self.binary(st, ins)
        case mir.S_MOV_B64, mir.S_MOV_B64_term, mir.COPY                 : return self.move(st, ins)
        case mir.S_AND_SAVEEXEC_B64, mir.S_OR_SAVEEXEC_B64                : return self.saveExec(st, ins)
        case mir.EXIT_STRICT_WWM                                          : return self.restore(st, ins)
        default                                                           : return false
    }
}

func (self *_ExecChecker) restore(st *_LaneState, ins *mir.Instr) bool {
    if v, ok := self.value(st, ins.UseAt(0)); !ok {
        return false
    } else {
        st.exec = v
        return true
    }
}

// CheckRegionMarkers verifies that the region markers are still well nested
// in layout order, and that every exit directly follows the instruction
// restoring exec. The lane simulation does not follow masks through spill
// slots, so this is what remains checkable once registers are allocated.
func CheckRegionMarkers(fn *mir.Function) error {
    var open []int64
    seen := make(map[int64]bool)

    /* match the markers in layout order */
    for _, bb := range fn.Blocks {
        for i, ins := range bb.Ins {
            switch ins.Op {
                case mir.EXEC_REGION_ENTER: {
                    id := ins.Args[0].Imm
                    if seen[id] {
                        return errors.Errorf("region markers: region %d of %s entered twice", id, fn.Name)
                    }
                    seen[id] = true
                    open = append(open, id)
                }
                case mir.EXEC_REGION_EXIT: {
                    id := ins.Args[0].Imm
                    if len(open) == 0 || open[len(open) - 1] != id {
                        return errors.Errorf("region markers: region %d of %s exits out of order in %s", id, fn.Name, bb)
                    }
                    if !restoresExec(bb.Ins[:i]) {
                        return errors.Errorf("region markers: region %d of %s exits in %s without restoring exec", id, fn.Name, bb)
                    }
                    open = open[:len(open) - 1]
                }
            }
        }
    }

    /* every region must be closed */
    if len(open) != 0 {
        return errors.Errorf("region markers: region %d of %s is never exited", open[len(open) - 1], fn.Name)
    } else {
        return nil
    }
}

func restoresExec(ins []*mir.Instr) bool {
    for i := len(ins) - 1; i >= 0; i-- {
        if !ins[i].IsMarker() {
            return ins[i].WritesExec()
        }
    }
    return false
}
