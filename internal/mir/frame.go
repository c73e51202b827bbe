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

// SpillSlot is an abstract stack location holding a spilled register.
type SpillSlot struct {
    Id      int
    Size    int
    Align   int
    File    RegFile
    Offset  int
    Colored bool
}

func (self *SpillSlot) String() string {
    return fmt.Sprintf("%%stack.%d", self.Id)
}

// Frame is the stack frame of a function.
type Frame struct {
    Slots []*SpillSlot
    Size  int
}

// CreateSpillSlot allocates a new spill slot with an unassigned offset.
func (self *Frame) CreateSpillSlot(size int, align int, file RegFile) int {
    id := len(self.Slots)
    self.Slots = append(self.Slots, &SpillSlot {
        Id     : id,
        Size   : size,
        Align  : align,
        File   : file,
        Offset : -1,
    })
    return id
}

// Slot returns the spill slot with the given id.
func (self *Frame) Slot(id int) *SpillSlot {
    if id < 0 || id >= len(self.Slots) {
        panic(fmt.Sprintf("mir: invalid spill slot %d", id))
    } else {
        return self.Slots[id]
    }
}

// MachineInfo holds the function-level register bookkeeping.
type MachineInfo struct {
    StackPtr   Reg
    ExecCopy   Reg
    LongBranch Reg
    Reserved   []Reg
    WWMRegs    []Reg
    LiveIns    []Reg
}

// IsReserved reports whether a physical register overlaps a reservation.
func (self *MachineInfo) IsReserved(r Reg) bool {
    for _, v := range self.reservations() {
        if v != NoReg && v.Overlaps(r) {
            return true
        }
    }
    return false
}

// Reserve records an extra reserved register.
func (self *MachineInfo) Reserve(r Reg) {
    if !self.IsReserved(r) {
        self.Reserved = append(self.Reserved, r)
    }
}

func (self *MachineInfo) reservations() []Reg {
    ret := make([]Reg, 0, len(self.Reserved) + len(self.WWMRegs) + 3)
    ret = append(ret, self.StackPtr, self.ExecCopy, self.LongBranch)
    ret = append(ret, self.Reserved...)
    ret = append(ret, self.WWMRegs...)
    return ret
}
