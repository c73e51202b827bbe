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
    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/sched`
)

const (
    _MaxClauseLength = 64
)

// PostRABundler glues adjacent memory instructions of the same kind into a
// bundle. Every member except the first is flagged with InBundle.
type PostRABundler struct{}

func (PostRABundler) Apply(fn *mir.Function) {
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); {
            n := bundleRun(bb.Ins[i:])
            for _, ins := range bb.Ins[i + 1:i + n] {
                ins.SetFlag(mir.InBundle, true)
            }
            i += n
        }
    }
}

func bundleRun(ins []*mir.Instr) int {
    k := sched.MemKind(ins[0])
    if k == 0 || ins[0].IsPseudo() {
        return 1
    }

    /* members may not read each other */
    for i := 1; i < len(ins); i++ {
        if sched.MemKind(ins[i]) != k || ins[i].IsPseudo() || readsAny(ins[i], ins[:i]) {
            return i
        }
    }
    return len(ins)
}

func readsAny(ins *mir.Instr, prev []*mir.Instr) bool {
    for _, p := range prev {
        for _, d := range p.Args {
            if d.IsDef() && (ins.ReadsReg(d.Reg) || ins.WritesReg(d.Reg)) {
                return true
            }
        }
    }
    return false
}

// InsertHardClauses starts every run of clause-flagged loads with an
// S_CLAUSE, whose operand is the number of instructions following it in
// the clause.
type InsertHardClauses struct{}

func (InsertHardClauses) Apply(fn *mir.Function) {
    ok := false
    for _, bb := range fn.Blocks {
        for i := 0; i < len(bb.Ins); {
            if n := hardClause(bb.Ins[i:]); n < 2 {
                i++
            } else {
                ok = true
                bb.Insert(i, mir.NewInstr(mir.S_CLAUSE, mir.Imm(int64(n - 1))))
                i += n + 1
            }
        }
    }

    /* instructions changed */
    if ok {
        fn.Invalidate()
    }
}

func hardClause(ins []*mir.Instr) int {
    n := 0
    k := sched.ClauseKind(ins[0])

    /* adjacent clause members of the same kind */
    for n < len(ins) && n < _MaxClauseLength && k != 0 {
        if !ins[n].Has(mir.InClause) || sched.ClauseKind(ins[n]) != k {
            break
        }
        n++
    }
    return n
}
