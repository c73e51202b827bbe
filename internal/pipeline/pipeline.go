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
    `context`
    `fmt`
    `time`

    `github.com/cloudwego/wavegen/internal/metrics`
    `github.com/cloudwego/wavegen/internal/mir`
    `github.com/cloudwego/wavegen/internal/utils`
    `github.com/containerd/log`
    `github.com/davecgh/go-spew/spew`
    `github.com/pkg/errors`
)

// Pipeline is a resolved, immutable pass sequence. It is safe to run the
// same pipeline over different functions concurrently.
type Pipeline struct {
    stages        []Stage
    checks        map[string][]Checker
    Verify        bool
    PrintAfterAll bool
}

// Stages returns the resolved pass sequence, disabled passes included.
func (self *Pipeline) Stages() []Stage {
    return append([]Stage(nil), self.stages...)
}

// Names lists the passes that will run, in order.
func (self *Pipeline) Names() []string {
    ret := make([]string, 0, len(self.stages))
    for _, st := range self.stages {
        if st.Enabled {
            ret = append(ret, st.Name)
        }
    }
    return ret
}

// Run executes every enabled pass over fn in order. A fatal error raised by
// a pass aborts the function and is returned; invariant violations found by
// the consistency checks panic.
func (self *Pipeline) Run(ctx context.Context, fn *mir.Function) (err error) {
    var name string
    logger := log.G(ctx).WithField("func", fn.Name)

    /* fatal errors abort the whole function */
    defer func() {
        if v := recover(); v != nil {
            if fe, ok := v.(*utils.FatalError); ok {
                err = errors.Wrapf(fe.Err, "compile %s: pass %s", fn.Name, name)
                logger.WithError(err).Error("compilation aborted")
            } else {
                panic(v)
            }
        }
    }()

    /* run every pass in order */
    for _, st := range self.stages {
        name = st.Name

        /* disabled passes only hold their position */
        if !st.Enabled {
            logger.WithField("pass", name).Trace("pass disabled")
            continue
        }

        /* run the pass */
        t0 := time.Now()
        st.Pass.Apply(fn)
        dt := time.Since(t0)

        /* record the pass */
        metrics.PassDuration.WithLabelValues(name).Observe(dt.Seconds())
        logger.WithFields(log.Fields {
            "pass"     : name,
            "duration" : dt,
            "instrs"   : fn.NumInstrs(),
        }).Debug("pass done")

        /* dump the function if needed */
        if self.PrintAfterAll {
            logger.Infof("after %s:\n%s", name, mir.Print(fn))
        }

        /* consistency checks */
        if self.Verify {
            self.verify(fn, name)
        }
    }

    /* all done */
    return nil
}

func (self *Pipeline) verify(fn *mir.Function, name string) {
    if err := mir.Verify(fn); err != nil {
        panic(fmt.Sprintf("after pass %s: %v\nfunction info: %s", name, err, spew.Sdump(fn.Info)))
    }
    for _, check := range self.checks[name] {
        if err := check(fn); err != nil {
            panic(fmt.Sprintf("after pass %s: %v\n%s", name, err, mir.Print(fn)))
        }
    }
}
