// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apify

import "fmt"

// APIError 上游返回非 2xx
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apify api status %d: %s", e.StatusCode, e.Body)
}

// TransportError 网络层错误；与超时区分，调用方按 Transient 处理
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("apify %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PollTimeoutError poll-run 在 timeout 内未见终态
type PollTimeoutError struct {
	RunID   string
	Elapsed string
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("apify run %s not terminal after %s", e.RunID, e.Elapsed)
}
