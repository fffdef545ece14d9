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

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStdio(t *testing.T, input string) []string {
	t.Helper()
	h := newTestHandler(t)
	var out bytes.Buffer
	s := NewStdioServerWithStreams(h, strings.NewReader(input), &out)
	require.NoError(t, s.Run(context.Background()))

	var lines []string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestStdioRoundTrip(t *testing.T) {
	lines := runStdio(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	require.Len(t, lines, 1)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &resp))
	assert.Nil(t, resp.Error)
	assert.Equal(t, json.RawMessage("1"), resp.ID)
}

func TestStdioSequentialRequests(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n"
	lines := runStdio(t, input)
	require.Len(t, lines, 2)

	var first, second Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, json.RawMessage("1"), first.ID)
	assert.Equal(t, json.RawMessage("2"), second.ID)
}

func TestStdioMalformedLine(t *testing.T) {
	lines := runStdio(t, "this is not json\n")
	require.Len(t, lines, 1)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
	assert.Equal(t, "Parse error", resp.Error.Message)
	assert.Equal(t, json.RawMessage("null"), resp.ID)
}

func TestStdioSkipsBlankLines(t *testing.T) {
	input := "\n\n" + `{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n\n"
	lines := runStdio(t, input)
	assert.Len(t, lines, 1)
}

func TestStdioNotificationProducesNoOutput(t *testing.T) {
	lines := runStdio(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n")
	assert.Empty(t, lines)
}

func TestStdioToolCall(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"search","arguments":{"query":"authentication tokens"}}}` + "\n"
	lines := runStdio(t, input)
	require.Len(t, lines, 1)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &resp))
	require.Nil(t, resp.Error)
}
