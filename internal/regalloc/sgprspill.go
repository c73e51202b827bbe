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
    `github.com/cloudwego/wavegen/internal/codegen`
    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/target`
    `github.com/containerd/log`
)

// LowerSGPRSpills moves the exec-copy register to the lowest scalar pair
// left free by the scalar allocator, and expands the scalar spill pseudos
// into scratch accesses relative to the stack pointer.
type LowerSGPRSpills struct {
    Target *target.Desc
}

func (self LowerSGPRSpills) Apply(fn *mir.Function) {
    ok := false
    self.Target.Setup(fn)

    /* relocate the exec copy */
    if r := lowestFreePair(fn, self.Target); r != mir.NoReg && r != fn.Info.ExecCopy {
        log.L.WithField("func", fn.Name).Debugf("exec copy moved from %s to %s", fn.Info.ExecCopy, r)
        fn.Info.ExecCopy = r
    }

    /* lay out the slots left uncolored */
    for _, s := range fn.Frame.Slots {
        if s.Offset < 0 && s.File == mir.FileScalar {
            s.Offset = alignTo(fn.Frame.Size, s.Align)
            fn.Frame.Size = s.Offset + s.Size
        }
    }

    /* expand the pseudos */
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            if ins := bb.Ins[i]; ins.Op == mir.SI_SPILL_S_SAVE || ins.Op == mir.SI_SPILL_S_RESTORE {
                buf := codegen.LowerSpill(fn, ins)
                bb.Replace(ins, buf...)
                i += len(buf) - 1
                ok = true
            }
        }
    }

    /* the instructions changed */
    if ok {
        fn.Invalidate()
    }
}

// lowestFreePair finds the lowest allocatable scalar pair which is neither
// referenced nor reserved.
func lowestFreePair(fn *mir.Function, desc *target.Desc) mir.Reg {
    used := make(map[mir.Unit]bool)
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachReg(func(p *mir.Operand) {
            if p.Reg.IsPhysical() {
                for _, u := range p.PhysReg().Units() {
                    used[u] = true
                }
            }
        })
    })

    /* the exec copy itself does not count */
    info := fn.Info
    info.ExecCopy = mir.NoReg

    /* scan the aligned pairs */
    for i := 0; i + 2 <= desc.SGPRs; i += 2 {
        r := mir.Phys(mir.FileScalar, i, 2)
        if u := r.Units(); !used[u[0]] && !used[u[1]] && !info.IsReserved(r) {
            return r
        }
    }
    return mir.NoReg
}
