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

package sched

import (
    mapset `github.com/deckarep/golang-set/v2`

    `github.com/cloudwego/wavegen/internal/mir`
)

// ClauseKind is the kind of memory clause an instruction may join, zero if
// it cannot be part of one.
func ClauseKind(ins *mir.Instr) int {
    if !ins.MayLoad() || ins.MayStore() || ins.Info().Defs == 0 || ins.IsPseudo() {
        return 0
    } else if k := MemKind(ins); k == 1 || k == 2 {
        return k
    } else {
        return 0
    }
}

// FormMemoryClauses flags runs of adjacent loads of the same kind as a
// clause. A load reading the result of an earlier load of the run ends it.
type FormMemoryClauses struct{}

func (FormMemoryClauses) Apply(fn *mir.Function) {
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); {
            n := clauseRun(bb.Ins[i:])
            if n >= 2 {
                for _, ins := range bb.Ins[i:i + n] {
                    ins.SetFlag(mir.InClause, true)
                }
            }
            if n == 0 {
                n = 1
            }
            i += n
        }
    }
}

func clauseRun(ins []*mir.Instr) int {
    k := ClauseKind(ins[0])
    if k == 0 {
        return 0
    }

    /* extend the run */
    n := 0
    defs := mapset.NewThreadUnsafeSet[uint]()
    for _, p := range ins {
        if ClauseKind(p) != k {
            break
        }

        /* the results of the clause are not available inside it */
        uses, d := regKeys(p)
        if uses.Intersect(defs).Cardinality() != 0 {
            break
        }

        /* add to the run */
        n++
        defs = defs.Union(d)
    }
    return n
}

// MemoryLegalizer expands memory fences into a full wait followed by a
// cache invalidation.
type MemoryLegalizer struct{}

func (MemoryLegalizer) Apply(fn *mir.Function) {
    ok := false
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); i++ {
            if ins := bb.Ins[i]; ins.Op == mir.ATOMIC_FENCE {
                bb.Replace(ins,
                    mir.NewInstr(mir.S_WAITCNT, mir.Imm(EncodeWaitcnt(0, 0))),
                    mir.NewInstr(mir.BUFFER_WBINVL1),
                )
                i++
                ok = true
            }
        }
    }

    /* the instruction list changed */
    if ok {
        fn.Invalidate()
    }
}
