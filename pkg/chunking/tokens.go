// Copyright 2025 The Quiver Authors
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

package chunking

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// MetaTokenCount is the estimated embedding-token count of a chunk.
const MetaTokenCount = "token_count"

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens estimates how many tokens the embedding provider will see for
// text. Uses the cl100k_base BPE when its tables are available, otherwise a
// 4-characters-per-token approximation.
func CountTokens(text string) int {
	encodingOnce.Do(func() {
		// Table loading can fail in offline environments; the fallback below
		// covers that.
		encoding, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}
