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
    `sort`
    `sync`

    mapset `github.com/deckarep/golang-set/v2`

    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/target`
    `github.com/cloudwego/wavegen/internal/utils`
)

const (
    StrategyLatency      = "latency"
    StrategyILP          = "ilp"
    StrategyMemoryClause = "memory-clause"
    StrategyMinReg       = "min-reg"
)

// Strategy ranks the ready nodes of a bottom-up list scheduler.
type Strategy interface {
    // Better reports whether a should be placed below b.
    Better(st *State, a *Node, b *Node) bool
}

var (
    strategies     map[string]Strategy
    strategiesOnce sync.Once
)

func initStrategies() {
    strategies = map[string]Strategy {
        StrategyLatency      : _Latency{},
        StrategyILP          : _ILP{},
        StrategyMemoryClause : _MemoryClause{},
        StrategyMinReg       : _MinReg{},
    }
}

// Strategies lists the registered strategy names.
func Strategies() []string {
    strategiesOnce.Do(initStrategies)
    ret := make([]string, 0, len(strategies))
    for k := range strategies {
        ret = append(ret, k)
    }
    sort.Strings(ret)
    return ret
}

// NewStrategy looks up a strategy by name.
func NewStrategy(name string) (Strategy, error) {
    strategiesOnce.Do(initStrategies)
    if s, ok := strategies[name]; !ok {
        return nil, utils.EUnknownStrategy("sched-strategy", name, Strategies())
    } else {
        return s, nil
    }
}

// State is the progress of the scheduler over a region. Nodes are placed
// from the bottom up, Last is the most recently placed one.
type State struct {
    Last  *Node
    Live  mapset.Set[uint]
    desc  *target.Desc
    below []*mir.Instr
}

func newState(desc *target.Desc) *State {
    return &State {
        Live : mapset.NewThreadUnsafeSet[uint](),
        desc : desc,
    }
}

func (self *State) place(n *Node) {
    self.Last = n
    self.below = append(self.below, n.Ins)
    n.defs.Each(func(k uint) bool { self.Live.Remove(k); return false })
    n.uses.Each(func(k uint) bool { self.Live.Add(k); return false })
}

// stalls reports whether placing n right above the scheduled instructions
// violates a hazard inside the region.
func (self *State) stalls(n *Node) bool {
    for _, h := range self.desc.Hazards {
        if !h.Producer(n.Ins) {
            continue
        }

        /* walk down from the top of the scheduled part */
        waits := 0
        for i := len(self.below) - 1; i >= 0 && waits < h.Waits; i-- {
            if c := self.below[i]; h.Consumer(n.Ins, c) {
                return true
            } else {
                waits += c.WaitStates()
            }
        }
    }
    return false
}

// pick selects the next node among the ready ones. Nodes that would stall
// are only considered when nothing else is ready, ties keep the original
// order.
func (self *State) pick(s Strategy, ready []*Node) int {
    var cands []int
    for i, n := range ready {
        if !self.stalls(n) {
            cands = append(cands, i)
        }
    }

    /* everything stalls */
    if len(cands) == 0 {
        for i := range ready {
            cands = append(cands, i)
        }
    }

    /* find the best candidate */
    best := cands[0]
    for _, i := range cands[1:] {
        a, b := ready[i], ready[best]
        if s.Better(self, a, b) || (!s.Better(self, b, a) && a.Index > b.Index) {
            best = i
        }
    }
    return best
}

type _Latency struct{}

// Better places the deepest nodes of the critical path at the bottom, so
// long latency producers move up.
func (_Latency) Better(_ *State, a *Node, b *Node) bool {
    if a.Depth != b.Depth {
        return a.Depth > b.Depth
    } else {
        return a.Height < b.Height
    }
}

type _ILP struct{}

// Better prefers the nodes releasing the most predecessors.
func (_ILP) Better(st *State, a *Node, b *Node) bool {
    if len(a.Preds) != len(b.Preds) {
        return len(a.Preds) > len(b.Preds)
    } else {
        return _Latency{}.Better(st, a, b)
    }
}

type _MemoryClause struct{}

// MemKind groups memory instructions by the unit serving them: 1 for scalar
// loads and stores, 2 for vector loads, 3 for vector stores, 4 for anything
// else touching memory, 0 otherwise.
func MemKind(ins *mir.Instr) int {
    switch {
        case !isMemory(ins)                      : return 0
        case ins.Is(mir.F_SMEM)                  : return 1
        case ins.Is(mir.F_VMEM) && ins.MayLoad() : return 2
        case ins.Is(mir.F_VMEM)                  : return 3
        default                                  : return 4
    }
}

// Better keeps memory accesses of the same kind next to each other.
func (_MemoryClause) Better(st *State, a *Node, b *Node) bool {
    if st.Last != nil {
        if k := MemKind(st.Last.Ins); k != 0 {
            if x, y := MemKind(a.Ins) == k, MemKind(b.Ins) == k; x != y {
                return x
            }
        }
    }
    return _Latency{}.Better(st, a, b)
}

type _MinReg struct{}

// pressure is the number of live ranges ended by placing n, minus the ones
// it starts.
func pressure(st *State, n *Node) int {
    ret := 0
    n.defs.Each(func(k uint) bool {
        if st.Live.Contains(k) { ret++ }
        return false
    })
    n.uses.Each(func(k uint) bool {
        if !st.Live.Contains(k) && !n.defs.Contains(k) { ret-- }
        return false
    })
    return ret
}

// Better prefers the nodes ending the most live ranges.
func (_MinReg) Better(st *State, a *Node, b *Node) bool {
    if x, y := pressure(st, a), pressure(st, b); x != y {
        return x > y
    } else {
        return _Latency{}.Better(st, a, b)
    }
}
