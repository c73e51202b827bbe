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
)

// LateBranchLowering removes the branches to the layout successor and turns
// the returns of kernels into S_ENDPGM.
type LateBranchLowering struct{}

func (LateBranchLowering) Apply(fn *mir.Function) {
    rt := false
    for _, bb := range fn.Blocks {
        nx := bb.Next()

        /* kernel epilogues end the program */
        for _, ins := range bb.Terminators() {
            if fn.Kernel && ins.Op == mir.SI_RETURN {
                ins.Op = mir.S_ENDPGM
                rt = true
            }
        }

        /* a trailing branch to the next block is a no-op */
        for n := len(bb.Ins); n != 0 && nx != nil; n = len(bb.Ins) {
            if ins := bb.Ins[n - 1]; !ins.IsBranch() || ins.Target() != nx {
                break
            }
            bb.RemoveAt(n - 1)
            rt = true
        }
    }

    /* rebuild the CFG if needed */
    if rt {
        fn.RebuildCFG()
    }
}

// PreEmitPeephole drops the S_CBRANCH_EXECZ skips jumping over nothing but
// zero-sized instructions.
type PreEmitPeephole struct{}

func (PreEmitPeephole) Apply(fn *mir.Function) {
    rt := false
    for i, bb := range fn.Blocks {
        for j := 0; j < len(bb.Ins); j++ {
            if ins := bb.Ins[j]; ins.Op == mir.S_CBRANCH_EXECZ && skipsNothing(fn, i, j) {
                bb.RemoveAt(j)
                rt = true
                j--
            }
        }
    }

    /* rebuild the CFG if needed */
    if rt {
        fn.RebuildCFG()
    }
}

func skipsNothing(fn *mir.Function, bi int, ii int) bool {
    bb := fn.Blocks[bi]
    to := bb.Ins[ii].Target()

    /* the rest of the block */
    for _, ins := range bb.Ins[ii + 1:] {
        if ins.Size() != 0 {
            return false
        }
    }

    /* and every block up to the target, which must follow in layout */
    for _, nx := range fn.Blocks[bi + 1:] {
        if nx == to {
            return true
        }
        if nx.Size() != 0 {
            return false
        }
    }
    return false
}
