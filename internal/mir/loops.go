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
    `gonum.org/v1/gonum/graph/flow`
    `gonum.org/v1/gonum/graph/simple`
)

// Loop is a natural loop.
type Loop struct {
    Header  *Block
    Latches []*Block
    Blocks  map[*Block]bool
    Depth   int
    Parent  *Loop
}

// Loops is the loop nest and the dominator tree of a function.
type Loops struct {
    Loops []*Loop
    idom  map[int]int
    depth map[int]int
    inner map[int]*Loop
}

// Loops returns the cached loop analysis, recomputing it when stale.
func (self *Function) Loops() *Loops {
    if self.loops == nil {
        self.loops = computeLoops(self)
    }
    return self.loops
}

func computeLoops(fn *Function) *Loops {
    g := simple.NewDirectedGraph()
    ret := &Loops {
        idom  : make(map[int]int, len(fn.Blocks)),
        depth : make(map[int]int, len(fn.Blocks)),
        inner : make(map[int]*Loop, len(fn.Blocks)),
    }

    /* build the flow graph, self loops are handled separately */
    for _, bb := range fn.Blocks {
        g.AddNode(simple.Node(bb.Id))
    }
    for _, bb := range fn.Blocks {
        for _, s := range bb.Succ {
            if s != bb {
                g.SetEdge(g.NewEdge(simple.Node(bb.Id), simple.Node(s.Id)))
            }
        }
    }

    /* immediate dominators */
    dt := flow.Dominators(simple.Node(fn.Entry().Id), g)
    for _, bb := range fn.Blocks {
        if p := dt.DominatorOf(int64(bb.Id)); p != nil {
            ret.idom[bb.Id] = int(p.ID())
        }
    }

    /* find the back edges, one loop per header */
    heads := make(map[*Block]*Loop)
    for _, bb := range fn.Blocks {
        for _, s := range bb.Succ {
            if ret.Dominates(s, bb) {
                lp, ok := heads[s]
                if !ok {
                    lp = &Loop { Header: s, Blocks: map[*Block]bool { s: true } }
                    heads[s] = lp
                    ret.Loops = append(ret.Loops, lp)
                }
                lp.Latches = append(lp.Latches, bb)
                naturalLoop(lp, bb)
            }
        }
    }

    /* loop depth, innermost loop is the smallest one */
    for _, bb := range fn.Blocks {
        for _, lp := range ret.Loops {
            if lp.Blocks[bb] {
                ret.depth[bb.Id]++
                if p := ret.inner[bb.Id]; p == nil || len(p.Blocks) > len(lp.Blocks) {
                    ret.inner[bb.Id] = lp
                }
            }
        }
    }

    /* nesting */
    for _, lp := range ret.Loops {
        lp.Depth = ret.depth[lp.Header.Id]
        for _, p := range ret.Loops {
            if p != lp && p.Blocks[lp.Header] && len(p.Blocks) > len(lp.Blocks) {
                if lp.Parent == nil || len(lp.Parent.Blocks) > len(p.Blocks) {
                    lp.Parent = p
                }
            }
        }
    }

    /* all done */
    return ret
}

func naturalLoop(lp *Loop, latch *Block) {
    var q []*Block
    var bb *Block

    /* walk backwards from the latch up to the header */
    if !lp.Blocks[latch] {
        lp.Blocks[latch] = true
        q = append(q, latch)
    }

    /* add all the predecessors */
    for len(q) != 0 {
        bb, q = q[len(q) - 1], q[:len(q) - 1]
        for _, p := range bb.Pred {
            if !lp.Blocks[p] {
                lp.Blocks[p] = true
                q = append(q, p)
            }
        }
    }
}

// Dominates reports whether a dominates b.
func (self *Loops) Dominates(a *Block, b *Block) bool {
    for id, seen := b.Id, 0; seen <= len(self.idom); seen++ {
        if id == a.Id {
            return true
        } else if p, ok := self.idom[id]; !ok || p == id {
            return false
        } else {
            id = p
        }
    }
    return false
}

// Depth is the loop nesting depth of a block.
func (self *Loops) Depth(bb *Block) int {
    return self.depth[bb.Id]
}

// LoopOf is the innermost loop containing the block, nil if none.
func (self *Loops) LoopOf(bb *Block) *Loop {
    return self.inner[bb.Id]
}
