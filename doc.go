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

// Package quiver is a retrieval-augmented knowledge platform.
//
// It has two cooperating cores. The ingestion pipeline pulls documents from
// heterogeneous sources (Git, Confluence, Jira, public docs, local files),
// chunks them in a content-type-aware way, embeds the chunks, and upserts them
// into a Qdrant collection while tracking per-document ingestion state for
// incremental change detection. The retrieval engine serves hybrid
// (dense + sparse + metadata) search over the same collection through a
// JSON-RPC protocol on stdio or HTTP with server-sent events, layering
// faceted search, topic chaining, intent-adaptive tuning, and cross-document
// analysis on top.
//
// See cmd/quiver for the CLI entrypoint.
package quiver
