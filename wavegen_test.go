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

package wavegen

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/wavegen/internal/mir"
)

func kernel(name string) string {
	return fmt.Sprintf(`func @%s kernel {
  %%0 : sreg_32
  %%1 : vgpr_32
  %%2 : vgpr_32
bb.0:
  %%0 = S_MOV_B32 7
  %%1 = V_MOV_B32_e32 %%0, implicit $exec
  %%2 = V_ADD_U32_e32 %%1, %%1, implicit $exec
  $v0 = COPY %%2
  SI_RETURN
}
`, name)
}

func parseModule(t *testing.T, names ...string) []*Function {
	src := make([]string, len(names))
	for i, n := range names {
		src[i] = kernel(n)
	}
	fns, err := ParseFunctions(strings.Join(src, "\n"))
	require.NoError(t, err)
	require.Len(t, fns, len(names))
	return fns
}

func TestCompile(t *testing.T) {
	for _, level := range []OptLevel{OptNone, OptLess, OptDefault, OptAggressive} {
		t.Run(level.String(), func(t *testing.T) {
			fn := parseModule(t, "k")[0]
			require.NoError(t, Compile(fn, WithOptLevel(level), WithVerify(true), WithSchedStrategy("latency")))
			require.Empty(t, mir.RemainingVRegs(fn, mir.FileVector))
			require.Empty(t, mir.RemainingVRegs(fn, mir.FileScalar))
			require.NotNil(t, fn.Layout)
			require.Contains(t, Print(fn), "S_ENDPGM")
		})
	}
}

func TestCompile_ConfigErrors(t *testing.T) {
	fn := parseModule(t, "k")[0]
	err := Compile(fn, WithGenericRegAlloc("greedy"))
	require.Error(t, err)
	require.True(t, IsConfigError(err))
	require.True(t, errdefs.IsInvalidArgument(err))
	require.Contains(t, err.Error(), "-regalloc not supported with amdgcn. Use -sgpr-regalloc, -wwm-regalloc, and -vgpr-regalloc")

	/* unknown strategies */
	fn = parseModule(t, "k")[0]
	err = Compile(fn, WithRegAlloc("vgpr", "linear"))
	require.True(t, IsConfigError(err))
	fn = parseModule(t, "k")[0]
	err = Compile(fn, WithSchedStrategy("random"))
	require.True(t, IsConfigError(err))
}

func TestOptions_Invalid(t *testing.T) {
	require.Panics(t, func() { WithRegAlloc("agpr", "fast") })
	require.Panics(t, func() { WithOptLevel(OptLevel(7)) })
	require.Panics(t, func() { WithMaxWorkers(-1) })
	require.Panics(t, func() { WithTarget(nil) })
}

func TestCompileModule(t *testing.T) {
	fns := parseModule(t, "a", "b", "c", "d", "e")
	require.NoError(t, CompileModule(context.Background(), fns, WithMaxWorkers(2), WithVerify(true)))
	for _, fn := range fns {
		require.NotNil(t, fn.Layout, fn.Name)
	}
}

func TestCompileModule_Errors(t *testing.T) {
	fns := parseModule(t, "a", "b", "c")
	err := CompileModule(context.Background(), fns, WithGenericRegAlloc("fast"))
	require.Error(t, err)
	require.True(t, IsConfigError(err))
	require.Contains(t, err.Error(), "3 of 3 functions failed")
	require.NoError(t, CompileModule(context.Background(), nil))
}
