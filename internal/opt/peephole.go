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

package opt

import (
    `github.com/cloudwego/wavegen/internal/mir`
)

// PeepholeOpt forwards the sources of full-register virtual copies to their
// users. The copies left without users are removed by DCE.
type PeepholeOpt struct{}

func (PeepholeOpt) Apply(fn *mir.Function) {
    ud := useDefOf(fn)
    rm := false

    /* forward every eligible copy */
    fn.ForEachInstr(func(_ *mir.Block, ins *mir.Instr) {
        if src, dst, ok := forwardableCopy(fn, ud, ins); ok {
            rm = true
            replaceReg(fn, dst, src, 0)
            ud.uses[src] = append(ud.uses[src], ud.uses[dst]...)
            delete(ud.uses, dst)
        }
    })

    /* the instruction list is unchanged, but the uses are */
    if rm {
        fn.Invalidate()
    }
}

func forwardableCopy(fn *mir.Function, ud *_UseDef, ins *mir.Instr) (mir.Reg, mir.Reg, bool) {
    if ins.Op != mir.COPY {
        return 0, 0, false
    }

    /* both sides must be full virtual registers */
    dst, src := &ins.Args[0], &ins.Args[1]
    if !dst.IsVirtual() || !src.IsVirtual() || dst.IsPartial() || src.IsPartial() {
        return 0, 0, false
    }

    /* with identical allocation constraints */
    if fn.ClassOf(dst.Reg) != fn.ClassOf(src.Reg) || fn.VReg(dst.Reg).Flags != fn.VReg(src.Reg).Flags {
        return 0, 0, false
    }

    /* and a single definition each */
    if ud.singleDef(dst.Reg) != ins || ud.singleDef(src.Reg) == nil || len(ud.uses[dst.Reg]) == 0 {
        return 0, 0, false
    }

    /* partial uses of the copy are left alone */
    for _, u := range ud.uses[dst.Reg] {
        for i := range u.Args {
            if p := &u.Args[i]; p.IsUse() && p.Reg == dst.Reg && p.IsPartial() {
                return 0, 0, false
            }
        }
    }
    return src.Reg, dst.Reg, true
}
