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
    `fmt`
)

// RegFile is one of the three disjoint physical register files.
type RegFile uint8

const (
    FileUnknown RegFile = iota
    FileScalar
    FileWholeWave
    FileVector
    FileSpecial
)

// AllocOrder is the fixed order in which the register files are allocated.
var AllocOrder = [...]RegFile {
    FileScalar,
    FileWholeWave,
    FileVector,
}

func (self RegFile) String() string {
    switch self {
        case FileUnknown   : return "unknown"
        case FileScalar    : return "scalar"
        case FileWholeWave : return "whole-wave"
        case FileVector    : return "vector"
        case FileSpecial   : return "special"
        default            : panic("unreachable")
    }
}

// ParseRegFile converts the user-facing file name into a RegFile.
func ParseRegFile(name string) (RegFile, bool) {
    switch name {
        case "sgpr", "scalar"                    : return FileScalar, true
        case "wwm", "whole-wave", "wholewave"   : return FileWholeWave, true
        case "vgpr", "vector"                    : return FileVector, true
        default                                  : return FileUnknown, false
    }
}

// Reg is either a virtual register (an index into Function.VRegs), or a
// physical register described by its file, first register number and width
// in 32-bit units.
type Reg uint64

const (
    _B_virt  = 63
    _B_file  = 56
    _B_width = 48
)

const (
    _M_file  = 0x7f
    _M_width = 0xff
)

const (
    _R_virt  = 1 << _B_virt
    _R_index = (1 << _B_width) - 1
)

// NoReg is the null register.
const NoReg Reg = 0

const (
    MaxSGPRs   = 104
    MaxVGPRs   = 256
    MaxWWMRegs = 8
    WWMBase    = MaxVGPRs - MaxWWMRegs
)

const (
    _N_vcc  = 106
    _N_m0   = 124
    _N_exec = 126
    _N_scc  = 253
)

var (
    EXEC = Phys(FileSpecial, _N_exec, 2)
    VCC  = Phys(FileSpecial, _N_vcc, 2)
    M0   = Phys(FileSpecial, _N_m0, 1)
    SCC  = Phys(FileSpecial, _N_scc, 1)
)

// Virt returns the i-th virtual register.
func Virt(i int) Reg {
    return _R_virt | Reg(i & _R_index)
}

// Phys returns a physical register.
func Phys(file RegFile, num int, width int) Reg {
    if file == FileUnknown || width <= 0 || width > _M_width {
        panic(fmt.Sprintf("mir: invalid physical register (%s, %d, %d)", file, num, width))
    } else {
        return (Reg(file & _M_file) << _B_file) | (Reg(width & _M_width) << _B_width) | Reg(num & _R_index)
    }
}

func (self Reg) IsVirtual() bool {
    return self & _R_virt != 0
}

func (self Reg) IsPhysical() bool {
    return self != NoReg && self & _R_virt == 0
}

// Index is the virtual register index.
func (self Reg) Index() int {
    if !self.IsVirtual() {
        panic("mir: Index() of a physical register " + self.String())
    } else {
        return int(self & _R_index)
    }
}

func (self Reg) File() RegFile {
    if self.IsVirtual() {
        return FileUnknown
    } else {
        return RegFile((self >> _B_file) & _M_file)
    }
}

// Num is the first physical register number.
func (self Reg) Num() int {
    return int(self & _R_index)
}

func (self Reg) Width() int {
    return int((self >> _B_width) & _M_width)
}

// Sub returns the k-th 32-bit part of a physical register tuple; k = 0 is
// the register itself.
func (self Reg) Sub(k uint8) Reg {
    if k == 0 {
        return self
    } else if int(k) > self.Width() {
        panic(fmt.Sprintf("mir: sub-register %d out of range for %s", k, self))
    } else {
        return Phys(self.File(), self.Num() + int(k) - 1, 1)
    }
}

// Overlaps reports whether two physical registers share a register unit.
func (self Reg) Overlaps(other Reg) bool {
    if !self.IsPhysical() || !other.IsPhysical() {
        return self == other
    }

    /* compare the register units */
    for _, u := range self.Units() {
        for _, v := range other.Units() {
            if u == v {
                return true
            }
        }
    }

    /* no common units */
    return false
}

// Units lists the register units covered by a physical register. Whole-wave
// registers alias the top of the vector file.
func (self Reg) Units() []Unit {
    n := self.Width()
    f := self.File()
    b := self.Num()
    r := make([]Unit, n)

    /* whole-wave registers are carved out of the vector registers */
    if f == FileWholeWave {
        f = FileVector
        b += WWMBase
    }

    /* expand the tuple */
    for i := range r {
        r[i] = Unit { f, b + i }
    }
    return r
}

func (self Reg) String() string {
    if self == NoReg {
        return "$noreg"
    } else if self.IsVirtual() {
        return fmt.Sprintf("%%%d", self.Index())
    }

    /* special registers */
    switch self {
        case EXEC : return "$exec"
        case VCC  : return "$vcc"
        case M0   : return "$m0"
        case SCC  : return "$scc"
    }

    /* register prefix */
    var pfx string
    switch self.File() {
        case FileScalar    : pfx = "s"
        case FileVector    : pfx = "v"
        case FileWholeWave : pfx = "w"
        default            : return fmt.Sprintf("$special%d", self.Num())
    }

    /* single register or register tuple */
    if self.Width() == 1 {
        return fmt.Sprintf("$%s%d", pfx, self.Num())
    } else {
        return fmt.Sprintf("$%s[%d:%d]", pfx, self.Num(), self.Num() + self.Width() - 1)
    }
}

// Unit is a single 32-bit physical register cell.
type Unit struct {
    File RegFile
    Num  int
}

// Key packs a Unit into a dense integer, useful for bit vectors.
func (self Unit) Key() int {
    return int(self.File) << 8 | (self.Num & 0xff)
}

// NumUnitKeys bounds Unit.Key().
const NumUnitKeys = int(FileSpecial + 1) << 8
