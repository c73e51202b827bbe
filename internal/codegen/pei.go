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

package codegen

import (
    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/target`
    `github.com/containerd/log`
    `github.com/docker/go-units`
)

// PrologEpilogInserter lays out the stack frame, saves the whole-wave
// registers of callable functions in the prologue and restores them in the
// epilogue, and replaces the vector spill pseudos with scratch accesses.
type PrologEpilogInserter struct {
    Target *target.Desc
}

func (self PrologEpilogInserter) Apply(fn *mir.Function) {
    var slots []int
    self.Target.Setup(fn)

    /* callable functions preserve their whole-wave registers */
    if !fn.Kernel {
        for range fn.Info.WWMRegs {
            slots = append(slots, fn.Frame.CreateSpillSlot(4, 4, mir.FileWholeWave))
        }
    }

    /* assign the remaining offsets */
    layoutFrame(&fn.Frame)
    log.L.WithField("func", fn.Name).Debugf("frame size is %s", units.BytesSize(float64(fn.Frame.Size)))

    /* frame index elimination */
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            if !isVectorSpill(bb.Ins[i]) {
                continue
            }

            /* adjacent spills share one whole-wave section */
            j := i + 1
            for j < len(bb.Ins) && isVectorSpill(bb.Ins[j]) {
                j++
            }

            /* replace the run */
            buf := lowerAll(fn, append([]*mir.Instr(nil), bb.Ins[i:j]...))
            for k := i; k < j; k++ {
                bb.RemoveAt(i)
            }
            bb.Insert(i, buf...)
            i += len(buf) - 1
        }
    }

    /* save and restore the whole-wave registers */
    if len(slots) != 0 {
        insertPrologue(fn, slots)
        insertEpilogues(fn, slots)
    }

    /* the function changed */
    fn.Invalidate()
}

func alignTo(v int, align int) int {
    if align <= 1 {
        return v
    } else {
        return (v + align - 1) / align * align
    }
}

func layoutFrame(fr *mir.Frame) {
    size := 0
    for _, s := range fr.Slots {
        if s.Offset >= 0 && s.Offset + s.Size > size {
            size = s.Offset + s.Size
        }
    }

    /* append the slots without an offset */
    for _, s := range fr.Slots {
        if s.Offset < 0 {
            size = alignTo(size, s.Align)
            s.Offset = size
            size += s.Size
        }
    }

    /* update the frame size */
    if size > fr.Size {
        fr.Size = size
    }
}

func isVectorSpill(ins *mir.Instr) bool {
    return ins.Op == mir.SI_SPILL_V_SAVE || ins.Op == mir.SI_SPILL_V_RESTORE
}

func wwmSpills(fn *mir.Function, slots []int, op mir.Op) []*mir.Instr {
    buf := make([]*mir.Instr, len(slots))
    for i, id := range slots {
        reg := fn.Info.WWMRegs[i]
        if op == mir.SI_SPILL_V_SAVE {
            buf[i] = mir.NewInstr(op, mir.Use(reg), mir.SlotRef(id))
        } else {
            buf[i] = mir.NewInstr(op, mir.Def(reg), mir.SlotRef(id))
        }
    }
    return buf
}

func lowerAll(fn *mir.Function, ins []*mir.Instr) []*mir.Instr {
    var ret []*mir.Instr
    for _, p := range ins {
        ret = append(ret, LowerSpill(fn, p)...)
    }

    /* a single whole-wave section around all the accesses */
    return mergeWholeWave(ret)
}

// mergeWholeWave collapses back-to-back whole-wave sections into one.
func mergeWholeWave(ins []*mir.Instr) []*mir.Instr {
    ret := ins[:0]
    for i := 0; i < len(ins); i++ {
        if n := len(ret); n != 0 && reentersWholeWave(ret[n - 1], ins[i]) {
            ret = ret[:n - 1]
            continue
        }
        ret = append(ret, ins[i])
    }
    return ret
}

func reentersWholeWave(leave *mir.Instr, enter *mir.Instr) bool {
    return leave.Op == mir.S_MOV_B64 &&
        leave.Args[0].Reg == mir.EXEC &&
        enter.Op == mir.S_OR_SAVEEXEC_B64 &&
        enter.Args[0].Reg == leave.Args[1].Reg
}

func insertPrologue(fn *mir.Function, slots []int) {
    buf := lowerAll(fn, wwmSpills(fn, slots, mir.SI_SPILL_V_SAVE))
    for _, p := range buf {
        p.SetFlag(mir.FrameSetup, true)
    }

    /* the prologue ends with exec restored */
    buf[len(buf) - 1].SetFlag(mir.PrologueEnd, true)
    fn.Entry().Insert(0, buf...)
}

func insertEpilogues(fn *mir.Function, slots []int) {
    for _, bb := range fn.Blocks {
        for _, term := range bb.Terminators() {
            if term.Is(mir.F_Return) {
                bb.InsertBefore(term, lowerAll(fn, wwmSpills(fn, slots, mir.SI_SPILL_V_RESTORE))...)
                break
            }
        }
    }
}
