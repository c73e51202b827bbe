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
    `fmt`

    mapset `github.com/deckarep/golang-set/v2`

    `github.com/cloudwego/wavegen/internal/codegen`
    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/target`
)

// DepKind is the kind of a scheduling dependence.
type DepKind uint8

const (
    DepData DepKind = iota
    DepAnti
    DepOutput
    DepMemory
)

func (self DepKind) String() string {
    switch self {
        case DepData   : return "data"
        case DepAnti   : return "anti"
        case DepOutput : return "output"
        case DepMemory : return "memory"
        default        : return fmt.Sprintf("DepKind(%d)", self)
    }
}

// Edge is a dependence on (or of) another node.
type Edge struct {
    Node    *Node
    Kind    DepKind
    Latency int
}

// Node is an instruction of a scheduling region.
type Node struct {
    Ins    *mir.Instr
    Index  int
    Preds  []Edge
    Succs  []Edge
    Height int
    Depth  int
    uses   mapset.Set[uint]
    defs   mapset.Set[uint]
    left   int
}

func (self *Node) String() string {
    return fmt.Sprintf("SU(%d): %s", self.Index, mir.PrintInstr(self.Ins))
}

// DependsOn reports whether the node has a direct dependence on p.
func (self *Node) DependsOn(p *Node) bool {
    for _, e := range self.Preds {
        if e.Node == p {
            return true
        }
    }
    return false
}

// DAG is the dependence graph of a scheduling region.
type DAG struct {
    Nodes []*Node
}

func operandKeys(p *mir.Operand, set mapset.Set[uint]) {
    if p.Reg.IsVirtual() {
        set.Add(mir.VRegKey(p.Reg.Index()))
    } else if p.Reg.IsPhysical() {
        physKeys(p.PhysReg(), set)
    }
}

func physKeys(r mir.Reg, set mapset.Set[uint]) {
    for _, u := range r.Units() {
        set.Add(uint(u.Key()))
    }
}

// regKeys collects the register keys read and written by an instruction.
// Partial defs also read the register.
func regKeys(ins *mir.Instr) (mapset.Set[uint], mapset.Set[uint]) {
    uses := mapset.NewThreadUnsafeSet[uint]()
    defs := mapset.NewThreadUnsafeSet[uint]()

    /* explicit and implicit operands */
    for i := range ins.Args {
        if p := &ins.Args[i]; !p.IsReg() || p.Reg == mir.NoReg {
            continue
        } else if !p.IsDef() {
            if !p.IsUndef() { operandKeys(p, uses) }
        } else {
            operandKeys(p, defs)
            if p.IsPartial() { operandKeys(p, uses) }
        }
    }

    /* opcode implied registers */
    for _, r := range ins.Info().ImpUses { physKeys(r, uses) }
    for _, r := range ins.Info().ImpDefs { physKeys(r, defs) }
    return uses, defs
}

func isScratch(ins *mir.Instr) bool {
    switch ins.Op {
        case mir.SCRATCH_LOAD_DWORD, mir.SCRATCH_STORE_DWORD     : return true
        case mir.S_SCRATCH_LOAD_DWORD, mir.S_SCRATCH_STORE_DWORD : return true
        default                                                  : return false
    }
}

// MayAlias reports whether two memory accesses may touch the same bytes.
// Spill slots are distinct objects, accesses through the same base with
// known offsets are compared by range, anything else may alias.
func MayAlias(a *mir.Instr, b *mir.Instr) bool {
    sa, sb := codegen.IsSpill(a), codegen.IsSpill(b)

    /* spill slots */
    if sa && sb {
        return codegen.SpillSlotOf(a) == codegen.SpillSlotOf(b)
    } else if sa {
        return isScratch(b)
    } else if sb {
        return isScratch(a)
    }

    /* same base, known offsets */
    x, y := a.MemBase(), b.MemBase()
    u, v := a.MemOffset(), b.MemOffset()
    if x == nil || y == nil || u == nil || v == nil || !x.IsReg() || !y.IsReg() || !u.IsImm() || !v.IsImm() {
        return true
    } else if x.Reg != y.Reg || x.Sub != y.Sub {
        return true
    } else {
        return u.Imm < v.Imm + int64(b.Info().Bytes) && v.Imm < u.Imm + int64(a.Info().Bytes)
    }
}

func isMemory(ins *mir.Instr) bool {
    return ins.MayLoad() || ins.MayStore()
}

func (self *DAG) addEdge(from *Node, to *Node, kind DepKind, lat int) {
    for i, e := range to.Preds {
        if e.Node == from {
            if lat > e.Latency {
                to.Preds[i].Latency = lat
                for j := range from.Succs {
                    if from.Succs[j].Node == to {
                        from.Succs[j].Latency = lat
                    }
                }
            }
            return
        }
    }

    /* a new edge */
    to.Preds = append(to.Preds, Edge { Node: from, Kind: kind, Latency: lat })
    from.Succs = append(from.Succs, Edge { Node: to, Kind: kind, Latency: lat })
}

// BuildDAG computes the dependences between the instructions of a region.
func BuildDAG(desc *target.Desc, ins []*mir.Instr) *DAG {
    ret := &DAG { Nodes: make([]*Node, len(ins)) }
    last := make(map[uint]*Node)
    readers := make(map[uint][]*Node)
    mem := make([]*Node, 0, len(ins))

    /* one node per instruction */
    for i, p := range ins {
        n := &Node { Ins: p, Index: i }
        n.uses, n.defs = regKeys(p)
        ret.Nodes[i] = n

        /* true dependences */
        n.uses.Each(func(k uint) bool {
            if d, ok := last[k]; ok {
                ret.addEdge(d, n, DepData, desc.Latency(d.Ins))
            }
            return false
        })

        /* output and anti dependences */
        n.defs.Each(func(k uint) bool {
            if d, ok := last[k]; ok {
                ret.addEdge(d, n, DepOutput, 1)
            }
            for _, r := range readers[k] {
                if r != n {
                    ret.addEdge(r, n, DepAnti, 0)
                }
            }
            return false
        })

        /* update the register state */
        n.uses.Each(func(k uint) bool { readers[k] = append(readers[k], n); return false })
        n.defs.Each(func(k uint) bool { last[k] = n; readers[k] = nil; return false })

        /* memory ordering, loads may pass each other */
        if isMemory(p) {
            for _, m := range mem {
                if (p.MayStore() || m.Ins.MayStore()) && MayAlias(m.Ins, p) {
                    ret.addEdge(m, n, DepMemory, 1)
                }
            }
            mem = append(mem, n)
        }
    }

    /* critical path heights */
    for i := len(ret.Nodes) - 1; i >= 0; i-- {
        n := ret.Nodes[i]
        for _, e := range n.Succs {
            if h := e.Node.Height + e.Latency; h > n.Height {
                n.Height = h
            }
        }
    }

    /* and depths */
    for _, n := range ret.Nodes {
        for _, e := range n.Preds {
            if d := e.Node.Depth + e.Latency; d > n.Depth {
                n.Depth = d
            }
        }
    }
    return ret
}
