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
	"fmt"
	"strings"

	"github.com/cloudwego/wavegen/internal/mir"
	"github.com/cloudwego/wavegen/internal/target"
)

// Level is the code generation optimization level.
type Level int

const (
	LevelNone Level = iota
	LevelLess
	LevelDefault
	LevelAggressive
)

func (self Level) String() string {
	switch self {
	case LevelNone:
		return "none"
	case LevelLess:
		return "less"
	case LevelDefault:
		return "default"
	case LevelAggressive:
		return "aggressive"
	default:
		return fmt.Sprintf("Level(%d)", int(self))
	}
}

// ParseLevel accepts both the numeric (0-3) and the named forms.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimPrefix(s, "O")) {
	case "0", "none":
		return LevelNone, true
	case "1", "less":
		return LevelLess, true
	case "2", "default":
		return LevelDefault, true
	case "3", "aggressive":
		return LevelAggressive, true
	default:
		return LevelNone, false
	}
}

const (
	StrategyFast   = "fast"
	StrategyBasic  = "basic"
	StrategyGreedy = "greedy"
)

type Options struct {
	OptLevel              Level
	SGPRRegAlloc          string
	WWMRegAlloc           string
	VGPRRegAlloc          string
	GenericRegAlloc       string
	SchedStrategy         string
	DPPCombine            bool
	LoadStoreOpt          bool
	RewritePartialRegUses bool
	PreRAOptimizations    bool
	DCEInRA               bool
	OptExecMaskPreRA      bool
	Verify                bool
	PrintAfterAll         bool
	MaxWorkers            int
	Target                *target.Desc
}

// Optimized reports whether the optimizing pipeline is used.
func (self *Options) Optimized() bool {
	return self.OptLevel != LevelNone
}

// RegAllocFor returns the allocator strategy of a register file, falling
// back to the default of the optimization level.
func (self *Options) RegAllocFor(file mir.RegFile) string {
	var name string
	switch file {
	case mir.FileScalar:
		name = self.SGPRRegAlloc
	case mir.FileWholeWave:
		name = self.WWMRegAlloc
	case mir.FileVector:
		name = self.VGPRRegAlloc
	}

	/* use the default strategy if not specified */
	if name != "" {
		return name
	} else if self.Optimized() {
		return StrategyGreedy
	} else {
		return StrategyFast
	}
}

// SetRegAlloc overrides the allocator strategy of a register file.
func (self *Options) SetRegAlloc(file mir.RegFile, name string) {
	switch file {
	case mir.FileScalar:
		self.SGPRRegAlloc = name
	case mir.FileWholeWave:
		self.WWMRegAlloc = name
	case mir.FileVector:
		self.VGPRRegAlloc = name
	default:
		panic("wavegen: no register allocator for the " + file.String() + " file")
	}
}

func GetDefaultOptions() Options {
	return Options{
		OptLevel:              OptLevel,
		SGPRRegAlloc:          SGPRRegAlloc,
		WWMRegAlloc:           WWMRegAlloc,
		VGPRRegAlloc:          VGPRRegAlloc,
		SchedStrategy:         SchedStrategy,
		DPPCombine:            true,
		LoadStoreOpt:          true,
		RewritePartialRegUses: true,
		PreRAOptimizations:    true,
		DCEInRA:               true,
		OptExecMaskPreRA:      true,
		Verify:                Verify,
		MaxWorkers:            MaxWorkers,
		Target:                target.GFX9(),
	}
}
