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
    `github.com/cloudwego/wavegen/internal/mir`
)

// Hazard is a pipeline hazard: Consumer must not issue less than Waits wait
// states after a Producer it depends on.
type Hazard struct {
    Name     string
    Waits    int
    Producer func(ins *mir.Instr) bool
    Consumer func(prod *mir.Instr, cons *mir.Instr) bool
}

// MaxWaits is the largest wait state requirement among the hazards.
func (self *Desc) MaxWaits() int {
    ret := 0
    for _, h := range self.Hazards {
        if h.Waits > ret {
            ret = h.Waits
        }
    }
    return ret
}

// DefaultHazards returns the hazard table of the default target.
func DefaultHazards() []Hazard {
    return []Hazard {
        {
            Name     : "valu-sgpr-vmem",
            Waits    : 5,
            Producer : isVALU,
            Consumer : func(p, c *mir.Instr) bool { return c.Is(mir.F_VMEM) && readsDefOf(p, c, mir.FileScalar) },
        },
        {
            Name     : "valu-vgpr-dpp",
            Waits    : 2,
            Producer : isVALU,
            Consumer : func(p, c *mir.Instr) bool { return c.Is(mir.F_DPP) && readsDefOf(p, c, mir.FileVector, mir.FileWholeWave) },
        },
        {
            Name     : "exec-write-dpp",
            Waits    : 5,
            Producer : func(p *mir.Instr) bool { return !p.IsPseudo() && p.WritesExec() },
            Consumer : func(_, c *mir.Instr) bool { return c.Is(mir.F_DPP) },
        },
        {
            Name     : "vcc-write-branch",
            Waits    : 1,
            Producer : func(p *mir.Instr) bool { return isVALU(p) && p.WritesReg(mir.VCC) },
            Consumer : func(_, c *mir.Instr) bool { return c.Op == mir.S_CBRANCH_VCCZ || c.Op == mir.S_CBRANCH_VCCNZ },
        },
    }
}

func isVALU(ins *mir.Instr) bool {
    return ins.Is(mir.F_VALU) && !ins.IsPseudo()
}

// readsDefOf reports whether c reads a physical register of the given files
// written by p.
func readsDefOf(p *mir.Instr, c *mir.Instr, files ...mir.RegFile) bool {
    ret := false
    p.ForEachDef(func(d *mir.Operand) {
        if !ret && d.Reg.IsPhysical() && inFiles(d.Reg.File(), files) {
            ret = c.ReadsReg(d.PhysReg())
        }
    })
    return ret
}

func inFiles(f mir.RegFile, files []mir.RegFile) bool {
    for _, v := range files {
        if v == f {
            return true
        }
    }
    return false
}
