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

package target

import (
    `fmt`

    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/pkg/errors`
)

const (
    ScratchWidth      = 8
    WWMScratchWidth   = 4
    _ScalarTailRegs   = ScratchWidth + 6
)

const (
    _DefaultSGPRs       = 88
    _DefaultVGPRs       = 232
    _DefaultWWMRegs     = mir.MaxWWMRegs - WWMScratchWidth
    _DefaultBranchRange = (1 << 15 - 1) * 4
)

// Desc is the target description consumed by the pipeline. It is read-only
// once constructed.
type Desc struct {
    Name             string
    WaveSize         int
    SGPRs            int
    VGPRs            int
    WWMRegs          int
    ShortBranchRange int
    Hazards          []Hazard
}

// GFX9 returns the default target description.
func GFX9() *Desc {
    return &Desc {
        Name             : "gfx900",
        WaveSize         : 64,
        SGPRs            : _DefaultSGPRs,
        VGPRs            : _DefaultVGPRs,
        WWMRegs          : _DefaultWWMRegs,
        ShortBranchRange : _DefaultBranchRange,
        Hazards          : DefaultHazards(),
    }
}

// Validate checks that the register layout fits in the register files.
func (self *Desc) Validate() error {
    switch {
        case self.SGPRs < 0 || self.SGPRs & 1 != 0           : return errors.Errorf("target %s: scalar register count must be even, got %d", self.Name, self.SGPRs)
        case self.SGPRs + _ScalarTailRegs > mir.MaxSGPRs     : return errors.Errorf("target %s: too many scalar registers: %d", self.Name, self.SGPRs)
        case self.VGPRs < 0 || self.VGPRs + ScratchWidth > mir.WWMBase : return errors.Errorf("target %s: too many vector registers: %d", self.Name, self.VGPRs)
        case self.WWMRegs < 0 || self.WWMRegs + WWMScratchWidth > mir.MaxWWMRegs : return errors.Errorf("target %s: too many whole-wave registers: %d", self.Name, self.WWMRegs)
        case self.WaveSize != 32 && self.WaveSize != 64     : return errors.Errorf("target %s: invalid wave size %d", self.Name, self.WaveSize)
        case self.ShortBranchRange <= 0                      : return errors.Errorf("target %s: invalid branch range %d", self.Name, self.ShortBranchRange)
        default                                              : return nil
    }
}

func (self *Desc) String() string {
    return fmt.Sprintf("%s (wave%d, %d sgprs, %d vgprs, %d wwm)", self.Name, self.WaveSize, self.SGPRs, self.VGPRs, self.WWMRegs)
}

// NumRegs is the number of allocatable registers of a file.
func (self *Desc) NumRegs(file mir.RegFile) int {
    switch file {
        case mir.FileScalar    : return self.SGPRs
        case mir.FileVector    : return self.VGPRs
        case mir.FileWholeWave : return self.WWMRegs
        default                : return 0
    }
}

// Allocatable lists the allocatable registers of a file, in allocation order.
func (self *Desc) Allocatable(file mir.RegFile) []mir.Reg {
    n := self.NumRegs(file)
    ret := make([]mir.Reg, n)
    for i := range ret { ret[i] = mir.Phys(file, i, 1) }
    return ret
}

// SpillScratch lists the registers past the allocatable ones that may hold
// reloaded spill values of a file, in order of preference. The scalar
// registers with a fixed role are not part of the list.
func (self *Desc) SpillScratch(file mir.RegFile) []mir.Reg {
    var lim int
    var ret []mir.Reg

    /* the end of the register file */
    switch file {
        case mir.FileScalar    : lim = mir.MaxSGPRs
        case mir.FileVector    : lim = mir.WWMBase
        case mir.FileWholeWave : lim = mir.MaxWWMRegs
        default                : panic("target: no spill scratch registers for the " + file.String() + " file")
    }

    /* everything past the allocatable registers */
    for i := self.NumRegs(file); i < lim; i++ {
        if r := mir.Phys(file, i, 1); file != mir.FileScalar || !self.isFixedScalar(r) {
            ret = append(ret, r)
        }
    }
    return ret
}

func (self *Desc) isFixedScalar(r mir.Reg) bool {
    return r.Overlaps(self.StackPtr()) || r.Overlaps(self.ExecCopy()) || r.Overlaps(self.LongBranchReg())
}

// StackPtr is the scalar register holding the scratch stack pointer.
func (self *Desc) StackPtr() mir.Reg {
    return mir.Phys(mir.FileScalar, self.SGPRs + ScratchWidth, 1)
}

// ExecCopy is the initial location of the scalar pair saving exec around
// whole-wave spill code.
func (self *Desc) ExecCopy() mir.Reg {
    return mir.Phys(mir.FileScalar, self.SGPRs + ScratchWidth + 2, 2)
}

// LongBranchReg is the scalar pair used to expand long branches.
func (self *Desc) LongBranchReg() mir.Reg {
    return mir.Phys(mir.FileScalar, self.SGPRs + ScratchWidth + 4, 2)
}

// Setup assigns the target registers of a function that are still unset.
func (self *Desc) Setup(fn *mir.Function) {
    if fn.Info.StackPtr == mir.NoReg {
        fn.Info.StackPtr = self.StackPtr()
    }
    if fn.Info.ExecCopy == mir.NoReg {
        fn.Info.ExecCopy = self.ExecCopy()
    }
}

// Alignment is the required alignment of a register tuple of the given
// width, in registers.
func (self *Desc) Alignment(file mir.RegFile, width int) int {
    if file != mir.FileScalar || width == 1 {
        return 1
    } else if width >= 4 {
        return 4
    } else {
        return 2
    }
}

// Latency is the scheduling latency of an instruction.
func (self *Desc) Latency(ins *mir.Instr) int {
    switch {
        case ins.Op == mir.SI_SPILL_V_RESTORE || ins.Op == mir.SI_SPILL_S_RESTORE : return 40
        case ins.Is(mir.F_VMEM) && ins.MayLoad()                                 : return 80
        case ins.Is(mir.F_SMEM) && ins.MayLoad()                                 : return 20
        case ins.Is(mir.F_DPP)                                                   : return 6
        case ins.Is(mir.F_VALU)                                                  : return 4
        case ins.Size() == 0                                                     : return 0
        default                                                                  : return 1
    }
}
