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
    `github.com/cloudwego/wavegen/internal/mir`
)

// RegisterFile selects the virtual registers an allocator instance owns.
type RegisterFile mir.RegFile

const (
    Unknown   = RegisterFile(mir.FileUnknown)
    Scalar    = RegisterFile(mir.FileScalar)
    WholeWave = RegisterFile(mir.FileWholeWave)
    Vector    = RegisterFile(mir.FileVector)
)

// Files lists the allocatable register files in allocation order.
var Files = [...]RegisterFile {
    Scalar,
    WholeWave,
    Vector,
}

// File is the physical register file.
func (self RegisterFile) File() mir.RegFile {
    return mir.RegFile(self)
}

func (self RegisterFile) String() string {
    switch self {
        case Scalar    : return "sgpr"
        case WholeWave : return "wwm"
        case Vector    : return "vgpr"
        default        : return "unknown"
    }
}

// Classify tells which allocator owns a register. Virtual registers follow
// their class and flags, and are Unknown while the bank is unresolved.
func Classify(fn *mir.Function, r mir.Reg) RegisterFile {
    if r.IsVirtual() {
        return RegisterFile(fn.FileOf(r))
    }

    /* physical registers of the allocatable files */
    switch f := r.File(); f {
        case mir.FileScalar, mir.FileWholeWave, mir.FileVector : return RegisterFile(f)
        default                                                : return Unknown
    }
}

// vregsOf lists the unassigned virtual registers of a file referenced by
// the function, ordered by index.
func vregsOf(fn *mir.Function, file RegisterFile) []mir.Reg {
    var ret []mir.Reg
    vrm := fn.RegMap()
    seen := make(map[mir.Reg]bool)

    /* scan every operand */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        ins.ForEachReg(func(p *mir.Operand) {
            if r := p.Reg; r.IsVirtual() && !seen[r] {
                seen[r] = true
                if !vrm.HasPhys(r) && Classify(fn, r) == file {
                    ret = append(ret, r)
                }
            }
        })
    })

    /* keep the order stable */
    sortRegs(ret)
    return ret
}
