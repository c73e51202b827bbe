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

package emit

import (
    `github.com/pkg/errors`

    `github.com/cloudwego/wavegen/internal/metrics`
    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/target`
    `github.com/cloudwego/wavegen/internal/utils`
)

// BranchRelaxation widens the short branches that cannot reach their
// targets. Widening a branch grows the code, so the layout is recomputed
// until no more branch needs to be widened.
type BranchRelaxation struct {
    Target *target.Desc
}

func (self BranchRelaxation) Apply(fn *mir.Function) {
    n := 0
    lim := self.Target.ShortBranchRange

    /* iterate until converged, branches only ever grow */
    for {
        rt := false
        ly := mir.ComputeLayout(fn)

        /* check every short branch */
        fn.ForEachInstr(func(bb *mir.Block, ins *mir.Instr) {
            if ins.IsBranch() && ins.Info().Long != mir.OpInvalid {
                if disp := ly.Start[ins.Target().Id] - ly.Offset[ins] - ins.Size(); disp < -lim || disp >= lim {
                    self.widen(fn, ins)
                    rt = true
                    n++
                }
            }
        })

        /* layout is stable */
        if !rt {
            break
        }
    }

    /* update the counters */
    if n != 0 {
        fn.Invalidate()
        metrics.BranchesRelaxed.Add(float64(n))
    }
}

// widen turns ins into its long form, which clobbers the long branch
// register. The register must have been reserved before allocation.
func (self BranchRelaxation) widen(fn *mir.Function, ins *mir.Instr) {
    r := fn.Info.LongBranch
    if r == mir.NoReg {
        utils.Fatal(errors.Errorf("branch relaxation: %s in %s needs a long branch register, none is reserved", mir.PrintInstr(ins), fn.Name))
    }
    ins.Op = ins.Info().Long
    ins.Args = append(ins.Args, mir.ImplicitDef(r))
}
