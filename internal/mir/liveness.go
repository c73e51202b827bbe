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
    `github.com/bits-and-blooms/bitset`
)

// Liveness holds the live-in and live-out register sets of every block.
// Physical registers are tracked by register unit.
type Liveness struct {
    In  map[int]*bitset.BitSet
    Out map[int]*bitset.BitSet
}

// VRegKey is the liveness key of the i-th virtual register.
func VRegKey(i int) uint {
    return uint(NumUnitKeys + i)
}

// KeyReg decodes a liveness key back into a virtual register.
func KeyReg(k uint) (Reg, bool) {
    if k < uint(NumUnitKeys) {
        return NoReg, false
    } else {
        return Virt(int(k) - NumUnitKeys), true
    }
}

func regKeys(p *Operand) []uint {
    if p.Reg.IsVirtual() {
        return []uint { VRegKey(p.Reg.Index()) }
    }

    /* physical registers are tracked by unit */
    units := p.PhysReg().Units()
    ret := make([]uint, len(units))
    for i, u := range units { ret[i] = uint(u.Key()) }
    return ret
}

// Liveness returns the cached liveness, recomputing it when stale.
func (self *Function) Liveness() *Liveness {
    if self.live == nil {
        self.live = computeLiveness(self)
        self.valid = true
    }
    return self.live
}

func computeLiveness(fn *Function) *Liveness {
    nb := uint(NumUnitKeys + len(fn.VRegs))
    gen := make(map[int]*bitset.BitSet, len(fn.Blocks))
    kill := make(map[int]*bitset.BitSet, len(fn.Blocks))
    phis := make(map[[2]int]*bitset.BitSet)

    /* result sets */
    ret := &Liveness {
        In  : make(map[int]*bitset.BitSet, len(fn.Blocks)),
        Out : make(map[int]*bitset.BitSet, len(fn.Blocks)),
    }

    /* local sets */
    for _, bb := range fn.Blocks {
        g := bitset.New(nb)
        k := bitset.New(nb)

        /* scan the instructions */
        for _, ins := range bb.Ins {
            if ins.Op == PHI {
                collectPhiUses(bb, ins, phis, nb)
            } else {
                ins.ForEachUse(func(p *Operand) {
                    if !p.IsUndef() {
                        for _, key := range regKeys(p) {
                            if !k.Test(key) {
                                g.Set(key)
                            }
                        }
                    }
                })
            }

            /* partial defs do not kill the register */
            ins.ForEachDef(func(p *Operand) {
                if !p.IsPartial() || p.Reg.IsPhysical() {
                    for _, key := range regKeys(p) {
                        k.Set(key)
                    }
                }
            })
        }

        /* save the local sets */
        gen[bb.Id] = g
        kill[bb.Id] = k
        ret.In[bb.Id] = g.Clone()
        ret.Out[bb.Id] = bitset.New(nb)
    }

    /* backward data flow until a fixed point */
    for changed := true; changed; {
        changed = false
        for i := len(fn.Blocks) - 1; i >= 0; i-- {
            bb := fn.Blocks[i]
            out := bitset.New(nb)

            /* union of the successors */
            for _, s := range bb.Succ {
                out.InPlaceUnion(ret.In[s.Id])
                if p, ok := phis[[2]int { s.Id, bb.Id }]; ok {
                    out.InPlaceUnion(p)
                }
            }

            /* in = gen | (out - kill) */
            in := out.Difference(kill[bb.Id])
            in.InPlaceUnion(gen[bb.Id])

            /* check for changes */
            if !out.Equal(ret.Out[bb.Id]) || !in.Equal(ret.In[bb.Id]) {
                changed = true
                ret.In[bb.Id] = in
                ret.Out[bb.Id] = out
            }
        }
    }

    /* all done */
    return ret
}

func collectPhiUses(bb *Block, ins *Instr, phis map[[2]int]*bitset.BitSet, nb uint) {
    for i := 1; i + 1 < len(ins.Args); i += 2 {
        src := &ins.Args[i]
        pred := ins.Args[i + 1].Block

        /* incoming value of the edge */
        if src.IsReg() && !src.IsUndef() {
            key := [2]int { bb.Id, pred.Id }
            set, ok := phis[key]

            /* create the set as needed */
            if !ok {
                set = bitset.New(nb)
                phis[key] = set
            }

            /* mark the register */
            for _, k := range regKeys(src) {
                set.Set(k)
            }
        }
    }
}

// LiveIn returns the live-in set of a block.
func (self *Liveness) LiveIn(bb *Block) *bitset.BitSet {
    return self.In[bb.Id]
}

// LiveOut returns the live-out set of a block.
func (self *Liveness) LiveOut(bb *Block) *bitset.BitSet {
    return self.Out[bb.Id]
}

// IsLiveIn reports whether virtual register r is live into the block.
func (self *Liveness) IsLiveIn(bb *Block, r Reg) bool {
    return self.In[bb.Id].Test(VRegKey(r.Index()))
}

// IsLiveOut reports whether virtual register r is live out of the block.
func (self *Liveness) IsLiveOut(bb *Block, r Reg) bool {
    return self.Out[bb.Id].Test(VRegKey(r.Index()))
}
