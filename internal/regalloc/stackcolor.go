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
    `github.com/bits-and-blooms/bitset`
    `gonum.org/v1/gonum/graph/simple`

    `github.com/cloudwego/wavegen/internal/codegen`
    `github.com/cloudwego/wavegen/internal/metrics`
    `github.com/cloudwego/wavegen/internal/mir`
)

// _SlotLiveness is the liveness of the spill slots, saves being defs and
// restores uses.
type _SlotLiveness struct {
    in  map[int]*bitset.BitSet
    out map[int]*bitset.BitSet
}

func slotAccess(ins *mir.Instr) (int, bool, bool) {
    if !codegen.IsSpill(ins) {
        return -1, false, false
    }
    id := codegen.SpillSlotOf(ins)
    save := ins.Op == mir.SI_SPILL_S_SAVE || ins.Op == mir.SI_SPILL_V_SAVE
    return id, save, !save
}

func computeSlotLiveness(fn *mir.Function) *_SlotLiveness {
    n := uint(len(fn.Frame.Slots))
    gen := make(map[int]*bitset.BitSet, len(fn.Blocks))
    kill := make(map[int]*bitset.BitSet, len(fn.Blocks))
    ret := &_SlotLiveness {
        in  : make(map[int]*bitset.BitSet, len(fn.Blocks)),
        out : make(map[int]*bitset.BitSet, len(fn.Blocks)),
    }

    /* local sets, scanning backwards */
    for _, bb := range fn.Blocks {
        g, k := bitset.New(n), bitset.New(n)
        for i := len(bb.Ins) - 1; i >= 0; i-- {
            if id, def, use := slotAccess(bb.Ins[i]); def {
                k.Set(uint(id))
                g.Clear(uint(id))
            } else if use {
                g.Set(uint(id))
            }
        }
        gen[bb.Id], kill[bb.Id] = g, k
        ret.in[bb.Id], ret.out[bb.Id] = bitset.New(n), bitset.New(n)
    }

    /* iterate to a fixed point */
    for changed := true; changed; {
        changed = false
        for i := len(fn.Blocks) - 1; i >= 0; i-- {
            bb := fn.Blocks[i]
            out := bitset.New(n)
            for _, s := range bb.Succ {
                out.InPlaceUnion(ret.in[s.Id])
            }

            /* in = gen | (out - kill) */
            in := out.Difference(kill[bb.Id]).Union(gen[bb.Id])
            if !in.Equal(ret.in[bb.Id]) || !out.Equal(ret.out[bb.Id]) {
                ret.in[bb.Id], ret.out[bb.Id], changed = in, out, true
            }
        }
    }
    return ret
}

// slotInterference builds the interference graph of the spill slots. Two
// slots interfere when one is stored while the other is live.
func slotInterference(fn *mir.Function) *simple.UndirectedGraph {
    g := simple.NewUndirectedGraph()
    lv := computeSlotLiveness(fn)

    /* one node per slot */
    for _, s := range fn.Frame.Slots {
        g.AddNode(simple.Node(s.Id))
    }

    /* scan every block backwards */
    for _, bb := range fn.Blocks {
        live := lv.out[bb.Id].Clone()
        for i := len(bb.Ins) - 1; i >= 0; i-- {
            id, def, use := slotAccess(bb.Ins[i])
            switch {
                case def: {
                    for k, ok := live.NextSet(0); ok; k, ok = live.NextSet(k + 1) {
                        if int(k) != id {
                            g.SetEdge(simple.Edge { F: simple.Node(id), T: simple.Node(int64(k)) })
                        }
                    }
                    live.Clear(uint(id))
                }
                case use: {
                    live.Set(uint(id))
                }
            }
        }
    }
    return g
}

// StackSlotColoring shares the offset of spill slots of the same size and
// file whose live ranges are disjoint.
type StackSlotColoring struct{}

func (StackSlotColoring) Apply(fn *mir.Function) {
    var done []*mir.SpillSlot
    fr := &fn.Frame
    g := slotInterference(fn)

    /* the slots with a fixed offset come first */
    size := 0
    for _, s := range fr.Slots {
        if s.Offset >= 0 && s.Offset + s.Size > size {
            size = s.Offset + s.Size
        }
    }

    /* color the remaining slots in order */
    for _, s := range fr.Slots {
        if s.Offset >= 0 {
            continue
        }

        /* try the offsets of the slots colored so far */
        s.Colored = true
        for _, c := range done {
            if c.Size == s.Size && c.File == s.File && c.Offset % s.Align == 0 && offsetFree(g, done, s, c.Offset) {
                s.Offset = c.Offset
                metrics.SlotsShared.Inc()
                break
            }
        }

        /* allocate a new offset */
        if s.Offset < 0 {
            size = alignTo(size, s.Align)
            s.Offset = size
            size += s.Size
        }

        /* slot is colored */
        done = append(done, s)
    }

    /* update the frame size */
    if size > fr.Size {
        fr.Size = size
    }
}

// offsetFree reports whether no slot interfering with s occupies the bytes
// at off.
func offsetFree(g *simple.UndirectedGraph, done []*mir.SpillSlot, s *mir.SpillSlot, off int) bool {
    for _, c := range done {
        if c.Offset < off + s.Size && off < c.Offset + c.Size && g.HasEdgeBetween(int64(s.Id), int64(c.Id)) {
            return false
        }
    }
    return true
}

func alignTo(v int, align int) int {
    if align <= 1 {
        return v
    } else {
        return (v + align - 1) / align * align
    }
}

// MarkLastScratchLoad flags the restores after which a spill slot is dead.
type MarkLastScratchLoad struct{}

func (MarkLastScratchLoad) Apply(fn *mir.Function) {
    lv := computeSlotLiveness(fn)
    for _, bb := range fn.Blocks {
        live := lv.out[bb.Id].Clone()
        for i := len(bb.Ins) - 1; i >= 0; i-- {
            ins := bb.Ins[i]
            id, def, use := slotAccess(ins)
            if def {
                live.Clear(uint(id))
            } else if use {
                ins.SetFlag(mir.LastUse, !live.Test(uint(id)))
                live.Set(uint(id))
            }
        }
    }
}
