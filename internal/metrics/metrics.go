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

package metrics

import (
    `github.com/prometheus/client_golang/prometheus`
    dto `github.com/prometheus/client_model/go`
)

const (
    _Namespace = "wavegen"
)

// Registry holds every collector of the code generator.
var Registry = prometheus.NewRegistry()

var (
    PassDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts {
        Namespace : _Namespace,
        Name      : "pass_duration_seconds",
        Help      : "Time spent in each pass.",
        Buckets   : prometheus.ExponentialBuckets(1e-6, 4, 10),
    }, []string { "pass" })

    Functions = prometheus.NewCounterVec(prometheus.CounterOpts {
        Namespace : _Namespace,
        Name      : "functions_total",
        Help      : "Number of compiled functions by result.",
    }, []string { "result" })

    Spills = prometheus.NewCounterVec(prometheus.CounterOpts {
        Namespace : _Namespace,
        Name      : "spills_total",
        Help      : "Number of spilled virtual registers by register file.",
    }, []string { "file" })

    Reloads = prometheus.NewCounterVec(prometheus.CounterOpts {
        Namespace : _Namespace,
        Name      : "reloads_total",
        Help      : "Number of inserted spill restores by register file.",
    }, []string { "file" })

    SlotsShared = prometheus.NewCounter(prometheus.CounterOpts {
        Namespace : _Namespace,
        Name      : "spill_slots_shared_total",
        Help      : "Number of spill slots sharing an offset with another slot.",
    })

    BranchesRelaxed = prometheus.NewCounter(prometheus.CounterOpts {
        Namespace : _Namespace,
        Name      : "branches_relaxed_total",
        Help      : "Number of short branches widened to the long form.",
    })

    HazardNops = prometheus.NewCounter(prometheus.CounterOpts {
        Namespace : _Namespace,
        Name      : "hazard_nops_total",
        Help      : "Number of S_NOP instructions inserted by the hazard recognizer.",
    })
)

func init() {
    Registry.MustRegister(
        PassDuration,
        Functions,
        Spills,
        Reloads,
        SlotsShared,
        BranchesRelaxed,
        HazardNops,
    )
}

// Value reads the current value of a counter.
func Value(c prometheus.Counter) float64 {
    m := new(dto.Metric)
    if err := c.Write(m); err != nil {
        panic("metrics: cannot read counter: " + err.Error())
    } else {
        return m.GetCounter().GetValue()
    }
}

// Sum adds the values of a counter vector over the given label values.
func Sum(v *prometheus.CounterVec, labels ...string) float64 {
    ret := 0.0
    for _, l := range labels {
        ret += Value(v.WithLabelValues(l))
    }
    return ret
}
