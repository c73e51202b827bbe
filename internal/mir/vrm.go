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

// VirtRegMap records the allocation decision of every virtual register: a
// physical register, or a spill slot.
type VirtRegMap struct {
    fn   *Function
    phys map[Reg]Reg
    slot map[Reg]int
}

func newVirtRegMap(fn *Function) *VirtRegMap {
    return &VirtRegMap {
        fn   : fn,
        phys : make(map[Reg]Reg),
        slot : make(map[Reg]int),
    }
}

// Assign maps a virtual register to a physical register of the same file
// and width. Assigning across register files is an invariant violation.
func (self *VirtRegMap) Assign(v Reg, p Reg) {
    rc := self.fn.ClassOf(v)
    vf := self.fn.FileOf(v)

    /* check the register file */
    if vf == FileUnknown {
        panic(fmt.Sprintf("mir: assigning %s with an unresolved bank", v))
    } else if p.File() != vf {
        panic(fmt.Sprintf("mir: assigning %s register %s to %s register %s", vf, v, p.File(), p))
    }

    /* check the register width */
    if p.Width() != rc.Width() {
        panic(fmt.Sprintf("mir: assigning %s (%s) to %s with mismatched width", v, rc, p))
    }

    /* must not be assigned twice */
    if old, ok := self.phys[v]; ok && old != p {
        panic(fmt.Sprintf("mir: %s is already assigned to %s", v, old))
    }

    /* record the assignment */
    self.phys[v] = p
}

// Unassign drops the assignment of v.
func (self *VirtRegMap) Unassign(v Reg) {
    delete(self.phys, v)
}

// Phys returns the physical register of v, NoReg if not assigned.
func (self *VirtRegMap) Phys(v Reg) Reg {
    return self.phys[v]
}

func (self *VirtRegMap) HasPhys(v Reg) bool {
    _, ok := self.phys[v]
    return ok
}

// AssignSlot records the spill slot of v.
func (self *VirtRegMap) AssignSlot(v Reg, slot int) {
    self.slot[v] = slot
}

// Slot returns the spill slot of v, -1 if not spilled.
func (self *VirtRegMap) Slot(v Reg) int {
    if id, ok := self.slot[v]; ok {
        return id
    } else {
        return -1
    }
}

// Len is the number of assigned registers.
func (self *VirtRegMap) Len() int {
    return len(self.phys)
}
