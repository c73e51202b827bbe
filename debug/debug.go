/*
 * Copyright 2022 CloudWeGo Authors
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

package debug

import (
	"time"

	"github.com/cloudwego/wavegen/internal/metrics"
	"github.com/cloudwego/wavegen/internal/regalloc"
)

const (
	_PassDurationMetric = "wavegen_pass_duration_seconds"
)

// A Stats records statistics about the code generator.
type Stats struct {
	Functions FuncStats
	Spills    map[string]SpillStats
	Emit      EmitStats
	PassTime  map[string]time.Duration
}

// A FuncStats records the number of compiled functions.
type FuncStats struct {
	OK     int
	Failed int
}

// A SpillStats records the spill code inserted for one register file.
type SpillStats struct {
	Spills  int
	Reloads int
}

// An EmitStats records the changes made while finalizing the code.
type EmitStats struct {
	SlotsShared     int
	BranchesRelaxed int
	HazardNops      int
}

// GetStats returns statistics of the code generator.
func GetStats() Stats {
	ret := Stats{
		Functions: FuncStats{
			OK:     int(metrics.Sum(metrics.Functions, "ok")),
			Failed: int(metrics.Sum(metrics.Functions, "failed")),
		},
		Emit: EmitStats{
			SlotsShared:     int(metrics.Value(metrics.SlotsShared)),
			BranchesRelaxed: int(metrics.Value(metrics.BranchesRelaxed)),
			HazardNops:      int(metrics.Value(metrics.HazardNops)),
		},
		Spills:   make(map[string]SpillStats, len(regalloc.Files)),
		PassTime: passTime(),
	}

	/* spill code per register file */
	for _, rf := range regalloc.Files {
		ret.Spills[rf.String()] = SpillStats{
			Spills:  int(metrics.Sum(metrics.Spills, rf.String())),
			Reloads: int(metrics.Sum(metrics.Reloads, rf.String())),
		}
	}
	return ret
}

func passTime() map[string]time.Duration {
	ret := make(map[string]time.Duration)
	mfs, err := metrics.Registry.Gather()
	if err != nil {
		return ret
	}

	/* total time spent in each pass */
	for _, mf := range mfs {
		if mf.GetName() != _PassDurationMetric {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "pass" {
					ret[lp.GetValue()] = time.Duration(m.GetHistogram().GetSampleSum() * float64(time.Second))
				}
			}
		}
	}
	return ret
}
