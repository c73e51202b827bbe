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

	"github.com/cloudwego/wavegen/internal/mir"
	"github.com/cloudwego/wavegen/internal/utils"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// LoadFile applies the settings of a TOML configuration file on top of o.
func LoadFile(path string, o *Options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	return errors.Wrapf(Load(data, o), "load config %s", path)
}

// Load applies the settings of a TOML document on top of o. Keys absent
// from the document leave the corresponding options untouched.
func Load(data []byte, o *Options) error {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return errors.Wrap(err, "parse toml")
	}

	/* optimization level, numeric or named */
	if v := tree.Get("opt-level"); v != nil {
		var ok bool
		switch x := v.(type) {
		case int64:
			o.OptLevel, ok = Level(x), x >= 0 && x <= int64(LevelAggressive)
		case string:
			o.OptLevel, ok = ParseLevel(x)
		}
		if !ok {
			return utils.EConfig("opt-level", "invalid value %v", v)
		}
	}

	/* allocator strategies */
	for key, file := range map[string]mir.RegFile{
		"regalloc.sgpr": mir.FileScalar,
		"regalloc.wwm":  mir.FileWholeWave,
		"regalloc.vgpr": mir.FileVector,
	} {
		if err := loadString(tree, key, func(s string) { o.SetRegAlloc(file, s) }); err != nil {
			return err
		}
	}

	/* string options */
	strs := []struct {
		key string
		ptr *string
	}{
		{"regalloc.generic", &o.GenericRegAlloc},
		{"sched-strategy", &o.SchedStrategy},
	}
	for _, v := range strs {
		ptr := v.ptr
		if err := loadString(tree, v.key, func(s string) { *ptr = s }); err != nil {
			return err
		}
	}

	/* boolean options */
	bools := []struct {
		key string
		ptr *bool
	}{
		{"verify", &o.Verify},
		{"print-after-all", &o.PrintAfterAll},
		{"passes.dpp-combine", &o.DPPCombine},
		{"passes.load-store-opt", &o.LoadStoreOpt},
		{"passes.rewrite-partial-reg-uses", &o.RewritePartialRegUses},
		{"passes.pre-ra-optimizations", &o.PreRAOptimizations},
		{"passes.dead-lane-elimination", &o.DCEInRA},
		{"passes.optimize-exec-masking-pre-ra", &o.OptExecMaskPreRA},
	}
	for _, v := range bools {
		if x := tree.Get(v.key); x == nil {
			continue
		} else if b, ok := x.(bool); !ok {
			return utils.EConfig(v.key, "expected a boolean, got %v", x)
		} else {
			*v.ptr = b
		}
	}

	/* worker count */
	if err := loadInt(tree, "max-workers", &o.MaxWorkers); err != nil {
		return err
	}

	/* target description */
	if tree.Has("target") {
		return loadTarget(tree, o)
	} else {
		return nil
	}
}

func loadTarget(tree *toml.Tree, o *Options) error {
	td := *o.Target
	td.Hazards = append(td.Hazards[:0:0], o.Target.Hazards...)

	/* target name */
	if err := loadString(tree, "target.name", func(s string) { td.Name = s }); err != nil {
		return err
	}

	/* numeric properties */
	ints := []struct {
		key string
		ptr *int
	}{
		{"target.wave-size", &td.WaveSize},
		{"target.sgprs", &td.SGPRs},
		{"target.vgprs", &td.VGPRs},
		{"target.wwm-regs", &td.WWMRegs},
		{"target.branch-range", &td.ShortBranchRange},
	}
	for _, v := range ints {
		if err := loadInt(tree, v.key, v.ptr); err != nil {
			return err
		}
	}

	/* check the layout */
	if err := td.Validate(); err != nil {
		return utils.EConfig("target", "%v", err)
	}

	/* replace the target */
	o.Target = &td
	return nil
}

func loadString(tree *toml.Tree, key string, set func(string)) error {
	if v := tree.Get(key); v == nil {
		return nil
	} else if s, ok := v.(string); !ok {
		return utils.EConfig(key, "expected a string, got %v", v)
	} else {
		set(s)
		return nil
	}
}

func loadInt(tree *toml.Tree, key string, ptr *int) error {
	if v := tree.Get(key); v == nil {
		return nil
	} else if n, ok := v.(int64); !ok {
		return utils.EConfig(key, "expected an integer, got %v", v)
	} else {
		*ptr = int(n)
		return nil
	}
}
