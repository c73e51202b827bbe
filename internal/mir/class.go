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

// RegClass is the register class constraint of a virtual register. It fixes
// the bank and the width of the register at creation time.
type RegClass uint8

const (
    ClassNone RegClass = iota
    SReg32
    SReg64
    SReg128
    VGPR32
    VReg64
    VReg128
    AV32
)

type _ClassInfo struct {
    name  string
    file  RegFile
    width int
}

var _ClassTab = [...]_ClassInfo {
    ClassNone : { "none"     , FileUnknown, 0 },
    SReg32    : { "sreg_32"  , FileScalar , 1 },
    SReg64    : { "sreg_64"  , FileScalar , 2 },
    SReg128   : { "sreg_128" , FileScalar , 4 },
    VGPR32    : { "vgpr_32"  , FileVector , 1 },
    VReg64    : { "vreg_64"  , FileVector , 2 },
    VReg128   : { "vreg_128" , FileVector , 4 },
    AV32      : { "av_32"    , FileUnknown, 1 },
}

func (self RegClass) String() string {
    return _ClassTab[self].name
}

// Bank is the register file the class belongs to, FileUnknown for classes
// whose bank is decided by their users.
func (self RegClass) Bank() RegFile {
    return _ClassTab[self].file
}

// Width is the number of 32-bit registers the class occupies.
func (self RegClass) Width() int {
    return _ClassTab[self].width
}

func (self RegClass) IsScalar() bool {
    return self.Bank() == FileScalar
}

func (self RegClass) IsVector() bool {
    return self.Bank() == FileVector
}

// Narrows reports whether a register of class self may be constrained to
// class to. Classes are never widened, only the unknown bank may be resolved.
func (self RegClass) Narrows(to RegClass) bool {
    switch {
        case self == to   : return true
        case self == AV32 : return to == VGPR32 || to == SReg32
        default           : return false
    }
}

// ClassOf returns the class of the given bank and width.
func ClassOf(file RegFile, width int) RegClass {
    for i, v := range _ClassTab {
        if v.file == file && v.width == width && RegClass(i) != ClassNone {
            return RegClass(i)
        }
    }
    panic("mir: no register class for a " + file.String() + " register of this width")
}

// ParseRegClass converts a class name to RegClass.
func ParseRegClass(name string) (RegClass, bool) {
    for i, v := range _ClassTab {
        if v.name == name && RegClass(i) != ClassNone {
            return RegClass(i), true
        }
    }
    return ClassNone, false
}

// VRegFlags are the allocation attributes of a virtual register.
type VRegFlags uint8

const (
    // FlagWWM marks a vector register that lives in the whole-wave file.
    FlagWWM VRegFlags = 1 << iota

    // FlagSpillTemp marks a short-lived register introduced by the spiller;
    // it must be assigned to one of the spill scratch registers.
    FlagSpillTemp
)

// VRegInfo describes a virtual register.
type VRegInfo struct {
    Class RegClass
    Flags VRegFlags
}
