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

    `github.com/cloudwego/wavegen/internal/mir`
)

// LowerControlFlow expands the structured control flow pseudos into exec
// mask manipulation, and brackets every if/else region and every loop with
// region markers.
type LowerControlFlow struct{}

type _Lowering struct {
    fn      *mir.Function
    nextid  int64
    regions map[mir.Reg]int64
    loops   map[mir.Reg]int64
}

func (LowerControlFlow) Apply(fn *mir.Function) {
    lw := &_Lowering {
        fn      : fn,
        regions : make(map[mir.Reg]int64),
        loops   : make(map[mir.Reg]int64),
    }

    /* the loop regions need the loop structure before lowering */
    lw.openLoops()
    ok := len(lw.loops) != 0

    /* lower the pseudos in layout order */
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            if buf := lw.lower(bb, bb.Ins[i]); buf != nil {
                ok = true
                bb.Replace(bb.Ins[i], buf...)
                i += len(buf) - 1
            }
        }
    }

    /* the instructions and the CFG changed */
    if ok {
        fn.RebuildCFG()
    }
}

func (self *_Lowering) newRegion() int64 {
    self.nextid++
    return self.nextid
}

// origin looks through single-definition virtual copies.
func (self *_Lowering) origin(r mir.Reg) mir.Reg {
    for seen := 0; r.IsVirtual() && seen < len(self.fn.VRegs); seen++ {
        def := singleDef(self.fn, r)
        if def == nil || def.Op != mir.COPY || !def.Args[1].IsVirtual() || def.Args[1].IsPartial() {
            break
        }
        r = def.Args[1].Reg
    }
    return r
}

func singleDef(fn *mir.Function, r mir.Reg) *mir.Instr {
    var ret *mir.Instr
    for _, bb := range fn.Blocks {
        for _, ins := range bb.Ins {
            for i := range ins.Args {
                if p := &ins.Args[i]; p.IsDef() && p.Reg == r {
                    if ret != nil && ret != ins {
                        return nil
                    }
                    ret = ins
                }
            }
        }
    }
    return ret
}

func (self *_Lowering) openLoops() {
    var ids []int64
    var pre []*mir.Block

    /* find the loop back edges */
    for _, bb := range self.fn.Blocks {
        for _, ins := range bb.Ins {
            if ins.Op != mir.SI_LOOP {
                continue
            }

            /* the preheader is the predecessor of the header outside the loop */
            hdr := ins.Target()
            lp := self.fn.Loops().LoopOf(hdr)
            src := ins.UseAt(0).Reg
            if lp == nil || lp.Header != hdr {
                panic(fmt.Sprintf("cflow: SI_LOOP in %s does not branch to a loop header", bb))
            }

            /* open a region */
            for _, p := range hdr.Pred {
                if !lp.Blocks[p] {
                    id := self.newRegion()
                    self.loops[src] = id
                    ids = append(ids, id)
                    pre = append(pre, p)
                    break
                }
            }
        }
    }

    /* insert the entry markers at the end of the preheaders */
    for i, bb := range pre {
        bb.InsertBeforeTerminators(mir.NewInstr(mir.EXEC_REGION_ENTER, mir.Imm(ids[i])))
    }
}

func deadSCC() mir.Operand {
    p := mir.ImplicitDef(mir.SCC)
    p.SetFlag(mir.OpDead, true)
    return p
}

func (self *_Lowering) lower(bb *mir.Block, ins *mir.Instr) []*mir.Instr {
    switch ins.Op {
        case mir.SI_IF       : return self.lowerIf(ins)
        case mir.SI_ELSE     : return self.lowerElse(ins)
        case mir.SI_IF_BREAK : return self.lowerIfBreak(ins)
        case mir.SI_LOOP     : return self.lowerLoop(ins)
        case mir.SI_END_CF   : return self.lowerEndCF(bb, ins)
        default              : return nil
    }
}

func (self *_Lowering) lowerIf(ins *mir.Instr) []*mir.Instr {
    dst := ins.Args[0]
    cond := *ins.UseAt(0)
    tmp := self.fn.NewVReg(mir.SReg64)
    id := self.newRegion()

    /* the saved mask identifies the region */
    self.regions[dst.Reg] = id
    return []*mir.Instr {
        mir.NewInstr(mir.EXEC_REGION_ENTER, mir.Imm(id)),
        mir.NewInstr(mir.S_AND_B64, mir.Def(tmp), mir.Use(mir.EXEC), cond, deadSCC()),
        mir.NewInstr(mir.S_XOR_B64, dst, mir.Use(tmp), mir.Use(mir.EXEC), deadSCC()),
        mir.NewInstr(mir.S_MOV_B64_term, mir.Def(mir.EXEC), mir.Use(tmp)),
        mir.NewInstr(mir.S_CBRANCH_EXECZ, mir.BlockRef(ins.Target())),
    }
}

func (self *_Lowering) lowerElse(ins *mir.Instr) []*mir.Instr {
    dst := ins.Args[0]
    src := *ins.UseAt(0)
    tmp := self.fn.NewVReg(mir.SReg64)

    /* the else part continues the region of its if */
    if id, ok := self.regions[self.origin(src.Reg)]; ok {
        self.regions[dst.Reg] = id
    }

    /* flip to the lanes which skipped the then part */
    return []*mir.Instr {
        mir.NewInstr(mir.S_OR_SAVEEXEC_B64, mir.Def(tmp), src, deadSCC()),
        mir.NewInstr(mir.S_AND_B64, dst, mir.Use(mir.EXEC), mir.Use(tmp), deadSCC()),
        mir.NewInstr(mir.S_XOR_B64_term, mir.Def(mir.EXEC), mir.Use(mir.EXEC), mir.Use(dst.Reg), deadSCC()),
        mir.NewInstr(mir.S_CBRANCH_EXECZ, mir.BlockRef(ins.Target())),
    }
}

func (self *_Lowering) lowerIfBreak(ins *mir.Instr) []*mir.Instr {
    dst := ins.Args[0]
    cond := *ins.UseAt(0)
    src := *ins.UseAt(1)
    tmp := self.fn.NewVReg(mir.SReg64)

    /* accumulate the lanes leaving the loop */
    return []*mir.Instr {
        mir.NewInstr(mir.S_AND_B64, mir.Def(tmp), mir.Use(mir.EXEC), cond, deadSCC()),
        mir.NewInstr(mir.S_OR_B64, dst, mir.Use(tmp), src, deadSCC()),
    }
}

func (self *_Lowering) lowerLoop(ins *mir.Instr) []*mir.Instr {
    src := *ins.UseAt(0)
    return []*mir.Instr {
        mir.NewInstr(mir.S_ANDN2_B64_term, mir.Def(mir.EXEC), mir.Use(mir.EXEC), src, deadSCC()),
        mir.NewInstr(mir.S_CBRANCH_EXECNZ, mir.BlockRef(ins.Target())),
    }
}

func (self *_Lowering) lowerEndCF(bb *mir.Block, ins *mir.Instr) []*mir.Instr {
    src := *ins.UseAt(0)
    buf := []*mir.Instr { mir.NewInstr(mir.S_OR_B64, mir.Def(mir.EXEC), mir.Use(mir.EXEC), src, deadSCC()) }

    /* close the region the mask belongs to */
    org := self.origin(src.Reg)
    if id, ok := self.regions[org]; ok {
        buf = append(buf, mir.NewInstr(mir.EXEC_REGION_EXIT, mir.Imm(id)))
    } else if id, ok = self.loops[org]; ok {
        buf = append(buf, mir.NewInstr(mir.EXEC_REGION_EXIT, mir.Imm(id)))
    }

    /* the join restores exec before anything else */
    if i := bb.IndexOf(ins); i != 0 && !onlyJoins(bb.Ins[:i]) {
        panic(fmt.Sprintf("cflow: SI_END_CF is not at the top of %s", bb))
    }
    return buf
}

func onlyJoins(ins []*mir.Instr) bool {
    for _, p := range ins {
        if p.Op != mir.S_OR_B64 && p.Op != mir.EXEC_REGION_EXIT && p.Op != mir.SI_END_CF && p.Op != mir.COPY {
            return false
        }
    }
    return true
}
