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

package pipeline

import (
    `fmt`

    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/pkg/errors`
)

// Pass is a transformation over a machine function. A pass either mutates
// the function in place, or aborts the compilation with utils.Fatal.
type Pass interface {
    Apply(fn *mir.Function)
}

// PassFunc adapts an ordinary function to a Pass.
type PassFunc func(fn *mir.Function)

func (self PassFunc) Apply(fn *mir.Function) {
    self(fn)
}

// Checker is a consistency check run after a pass in verifying pipelines.
type Checker func(fn *mir.Function) error

// Stage is a resolved pipeline entry.
type Stage struct {
    Name    string
    Pass    Pass
    Enabled bool
    Anchor  string
}

func (self Stage) String() string {
    if !self.Enabled {
        return "(" + self.Name + ")"
    } else {
        return self.Name
    }
}

type _Insertion struct {
    Stage
    done bool
}

// Builder declares a pass list. Passes are either appended in order, or
// inserted immediately after a named anchor; anchors are resolved once by
// Build.
type Builder struct {
    base   []Stage
    ins    []*_Insertion
    checks map[string][]Checker
    errs   []string
}

func NewBuilder() *Builder {
    return &Builder {
        checks: make(map[string][]Checker),
    }
}

// Add appends an enabled pass.
func (self *Builder) Add(name string, pass Pass) *Builder {
    return self.AddIf(name, pass, true)
}

// AddIf appends a pass that only runs when enabled is true. A disabled pass
// keeps its position, so later insertions may still use it as an anchor.
func (self *Builder) AddIf(name string, pass Pass, enabled bool) *Builder {
    self.base = append(self.base, Stage { Name: name, Pass: pass, Enabled: enabled })
    return self
}

// InsertAfter declares a pass running immediately after anchor. Insertions
// after the same anchor keep their declaration order, and an insertion may
// anchor on another inserted pass.
func (self *Builder) InsertAfter(anchor string, name string, pass Pass, enabled bool) *Builder {
    if anchor == "" {
        self.errs = append(self.errs, fmt.Sprintf("pass %s: empty anchor", name))
    }
    self.ins = append(self.ins, &_Insertion { Stage: Stage { Name: name, Pass: pass, Enabled: enabled, Anchor: anchor } })
    return self
}

// Check registers a consistency check that runs after the named pass when
// verification is enabled.
func (self *Builder) Check(after string, fn Checker) *Builder {
    self.checks[after] = append(self.checks[after], fn)
    return self
}

// Build resolves the insertion anchors into a concrete pass sequence. An
// unresolved anchor or a duplicated pass name is reported as an error.
func (self *Builder) Build() (*Pipeline, error) {
    seen := make(map[string]bool)
    ret := &Pipeline { checks: make(map[string][]Checker, len(self.checks)) }
    errs := append([]string(nil), self.errs...)

    /* reset the insertion states */
    for _, v := range self.ins {
        v.done = false
    }

    /* expand the base list */
    for _, v := range self.base {
        self.emit(ret, v, seen, &errs)
    }

    /* every insertion must be resolved */
    for _, v := range self.ins {
        if !v.done {
            errs = append(errs, fmt.Sprintf("pass %s: anchor %s is not in the pipeline", v.Name, v.Anchor))
        }
    }

    /* every check must refer to a pass */
    for name, fns := range self.checks {
        if !seen[name] {
            errs = append(errs, fmt.Sprintf("check after %s: no such pass", name))
        } else {
            ret.checks[name] = fns
        }
    }

    /* report construction errors */
    if len(errs) != 0 {
        return nil, errors.Errorf("invalid pipeline: %v", errs)
    } else {
        return ret, nil
    }
}

func (self *Builder) emit(p *Pipeline, st Stage, seen map[string]bool, errs *[]string) {
    if seen[st.Name] {
        *errs = append(*errs, fmt.Sprintf("pass %s: duplicated name", st.Name))
        return
    }

    /* add the pass itself */
    seen[st.Name] = true
    p.stages = append(p.stages, st)

    /* then everything anchored on it, in declaration order */
    for _, v := range self.ins {
        if !v.done && v.Anchor == st.Name {
            v.done = true
            self.emit(p, v.Stage, seen, errs)
        }
    }
}
