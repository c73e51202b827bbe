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
	"github.com/pkg/errors"

	"github.com/cloudwego/wavegen/internal/utils"
)

// ConfigError reports an invalid option, such as an unknown allocation
// strategy or the generic allocator override. It matches
// errdefs.ErrInvalidArgument.
type ConfigError = utils.ConfigError

// IsConfigError reports whether err was caused by an invalid option.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
