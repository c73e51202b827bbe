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

package opts

import (
	"os"
	"strconv"
)

const (
	_DefaultOptLevel      = LevelDefault
	_DefaultSchedStrategy = "latency"
	_DefaultMaxWorkers    = 0 // one worker per logical core
)

var (
	OptLevel      = parseLevelOrDefault("WAVEGEN_OPT_LEVEL", _DefaultOptLevel)
	SGPRRegAlloc  = os.Getenv("WAVEGEN_SGPR_REGALLOC")
	WWMRegAlloc   = os.Getenv("WAVEGEN_WWM_REGALLOC")
	VGPRRegAlloc  = os.Getenv("WAVEGEN_VGPR_REGALLOC")
	SchedStrategy = stringOrDefault("WAVEGEN_SCHED_STRATEGY", _DefaultSchedStrategy)
	Verify        = parseBoolOrDefault("WAVEGEN_VERIFY", false)
	MaxWorkers    = parseOrDefault("WAVEGEN_MAX_WORKERS", _DefaultMaxWorkers, 0)
)

func parseOrDefault(key string, def int, min int) int {
	if env := os.Getenv(key); env == "" {
		return def
	} else if val, err := strconv.ParseUint(env, 0, 64); err != nil {
		panic("wavegen: invalid value for " + key)
	} else if ret := int(val); ret < min {
		panic("wavegen: value too small for " + key)
	} else {
		return ret
	}
}

func parseBoolOrDefault(key string, def bool) bool {
	if env := os.Getenv(key); env == "" {
		return def
	} else if val, err := strconv.ParseBool(env); err != nil {
		panic("wavegen: invalid value for " + key)
	} else {
		return val
	}
}

func parseLevelOrDefault(key string, def Level) Level {
	if env := os.Getenv(key); env == "" {
		return def
	} else if val, ok := ParseLevel(env); !ok {
		panic("wavegen: invalid value for " + key)
	} else {
		return val
	}
}

func stringOrDefault(key string, def string) string {
	if env := os.Getenv(key); env == "" {
		return def
	} else {
		return env
	}
}
