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
    `sort`
    `sync`

    `github.com/cloudwego/wavegen/internal/metrics`
    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/opts`
    `github.com/cloudwego/wavegen/internal/target`
    `github.com/cloudwego/wavegen/internal/utils`
    `github.com/containerd/log`
)

// Allocator assigns the virtual registers of one register file.
type Allocator interface {
    Allocate(fn *mir.Function)
}

// Factory creates an allocator for a register file.
type Factory func(desc *target.Desc, file RegisterFile) Allocator

type _Key struct {
    file RegisterFile
    name string
}

var (
    registry     map[_Key]Factory
    registryOnce sync.Once
)

func initRegistry() {
    registry = make(map[_Key]Factory)
    for _, f := range Files {
        registry[_Key { f, opts.StrategyFast }]   = newFast
        registry[_Key { f, opts.StrategyBasic }]  = newBasic
        registry[_Key { f, opts.StrategyGreedy }] = newGreedy
    }
}

// Strategies lists the registered strategy names.
func Strategies() []string {
    registryOnce.Do(initRegistry)
    seen := make(map[string]bool)
    ret := make([]string, 0, 3)

    /* collect the names */
    for k := range registry {
        if !seen[k.name] {
            seen[k.name] = true
            ret = append(ret, k.name)
        }
    }

    /* sort the names */
    sort.Strings(ret)
    return ret
}

// New creates the allocator of a register file. An unknown strategy is a
// configuration error.
func New(desc *target.Desc, file RegisterFile, name string) (Allocator, error) {
    registryOnce.Do(initRegistry)
    if fac, ok := registry[_Key { file, name }]; !ok {
        return nil, utils.EUnknownStrategy(file.String() + "-regalloc", name, Strategies())
    } else {
        return fac(desc, file), nil
    }
}

// Pass runs the allocator of one register file. Setting Generic selects
// the generic allocator override, which this target does not support.
type Pass struct {
    File     RegisterFile
    Strategy string
    Generic  string
    Target   *target.Desc
}

func (self Pass) Apply(fn *mir.Function) {
    if self.Generic != "" {
        utils.Fatal(utils.EGenericRegAlloc())
    }

    /* create the allocator */
    ra, err := New(self.Target, self.File, self.Strategy)
    if err != nil {
        utils.Fatal(err)
    }

    /* run the allocator */
    n := fn.RegMap().Len()
    ra.Allocate(fn)
    log.L.WithField("func", fn.Name).Debugf("%s allocator (%s) assigned %d registers", self.File, self.Strategy, fn.RegMap().Len() - n)
}

func sortRegs(regs []mir.Reg) {
    sort.Slice(regs, func(i int, j int) bool { return regs[i].Index() < regs[j].Index() })
}

func countSpills(file RegisterFile, spills int, reloads int) {
    metrics.Spills.WithLabelValues(file.String()).Add(float64(spills))
    metrics.Reloads.WithLabelValues(file.String()).Add(float64(reloads))
}
