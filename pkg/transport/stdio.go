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
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// maxLineBytes bounds one stdio message. Large tool results fit comfortably;
// anything bigger is a protocol violation.
const maxLineBytes = 16 * 1024 * 1024

// StdioServer speaks line-delimited JSON-RPC over a reader/writer pair,
// stdin/stdout by default. Protocol traffic owns stdout; diagnostics must go
// to stderr.
type StdioServer struct {
	handler *Handler
	in      io.Reader
	out     io.Writer

	mu sync.Mutex // serializes writes to out
}

// NewStdioServer creates a stdio transport over stdin and stdout.
func NewStdioServer(handler *Handler) *StdioServer {
	return &StdioServer{handler: handler, in: os.Stdin, out: os.Stdout}
}

// NewStdioServerWithStreams creates a stdio transport over explicit streams.
func NewStdioServerWithStreams(handler *Handler, in io.Reader, out io.Writer) *StdioServer {
	return &StdioServer{handler: handler, in: in, out: out}
}

// Run reads messages until EOF or context cancellation. Malformed lines get a
// parse error response with a null id; blank lines are skipped.
func (s *StdioServer) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp := s.handler.HandleRaw(ctx, []byte(line))
		if resp == nil {
			continue
		}
		if err := s.write(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdio read failed: %w", err)
	}
	slog.Debug("stdio transport closed on EOF")
	return nil
}

func (s *StdioServer) write(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(msg); err != nil {
		return err
	}
	_, err := s.out.Write([]byte("\n"))
	return err
}
