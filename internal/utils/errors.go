/*
 * Copyright 2021 ByteDance Inc.
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

package utils

import (
    `fmt`

    `github.com/containerd/errdefs`
)

const (
    _GenericRegAllocMessage = "-regalloc not supported with amdgcn. Use -sgpr-regalloc, -wwm-regalloc, and -vgpr-regalloc"
)

// ConfigError occures when the pipeline is configured with an unsupported
// combination of options.
type ConfigError struct {
    Option string
    Reason string
}

func (self *ConfigError) Error() string {
    if self.Option == "" {
        return self.Reason
    } else {
        return fmt.Sprintf("invalid option %s: %s", self.Option, self.Reason)
    }
}

// Unwrap makes ConfigError an errdefs.ErrInvalidArgument.
func (self *ConfigError) Unwrap() error {
    return errdefs.ErrInvalidArgument
}

// FatalError carries a fatal error raised by a pass through the pipeline.
type FatalError struct {
    Err error
}

func (self *FatalError) Error() string {
    return "fatal error: " + self.Err.Error()
}

func (self *FatalError) Unwrap() error {
    return self.Err
}

// Fatal aborts the compilation of the current function.
func Fatal(err error) {
    panic(&FatalError { Err: err })
}

func EConfig(option string, format string, args ...interface{}) *ConfigError {
    return &ConfigError {
        Option : option,
        Reason : fmt.Sprintf(format, args...),
    }
}

func EGenericRegAlloc() *ConfigError {
    return &ConfigError {
        Reason: _GenericRegAllocMessage,
    }
}

func EUnknownStrategy(option string, name string, known []string) *ConfigError {
    return EConfig(option, "unknown strategy %q, expected one of %v", name, known)
}
