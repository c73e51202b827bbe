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
	"testing"

	"github.com/cloudwego/wavegen/internal/metrics"
	"github.com/stretchr/testify/require"
)

func TestGetStats(t *testing.T) {
	st := GetStats()
	metrics.HazardNops.Add(2)
	metrics.Spills.WithLabelValues("vgpr").Inc()
	metrics.PassDuration.WithLabelValues("layout").Observe(0.5)

	/* the counters moved */
	nx := GetStats()
	require.Equal(t, st.Emit.HazardNops+2, nx.Emit.HazardNops)
	require.Equal(t, st.Spills["vgpr"].Spills+1, nx.Spills["vgpr"].Spills)
	require.Len(t, nx.Spills, 3)
	require.GreaterOrEqual(t, int64(nx.PassTime["layout"]), int64(500_000_000))
}
