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

package regalloc

import (
    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/target`
)

// PreRALongBranchReg reserves the long branch register pair when the
// function may be too large for short branches.
type PreRALongBranchReg struct {
    Target *target.Desc
}

func (self PreRALongBranchReg) Apply(fn *mir.Function) {
    if fn.Info.LongBranch == mir.NoReg && fn.Size() > self.Target.ShortBranchRange {
        fn.Info.LongBranch = self.Target.LongBranchReg()
    }
}
