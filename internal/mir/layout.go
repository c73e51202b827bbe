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

// Layout is the final placement of a function, in bytes.
type Layout struct {
    Start  map[int]int
    Offset map[*Instr]int
    Size   int
}

// ComputeLayout assigns an offset to every block and instruction, in
// layout order.
func ComputeLayout(fn *Function) *Layout {
    pc := 0
    ret := &Layout {
        Start  : make(map[int]int, len(fn.Blocks)),
        Offset : make(map[*Instr]int, fn.NumInstrs()),
    }

    /* blocks are placed in order */
    for _, bb := range fn.Blocks {
        ret.Start[bb.Id] = pc
        for _, ins := range bb.Ins {
            ret.Offset[ins] = pc
            pc += ins.Size()
        }
    }

    /* total size */
    ret.Size = pc
    return ret
}
