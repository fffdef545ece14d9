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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quiverkb/quiver/pkg/chunking"
	"github.com/quiverkb/quiver/pkg/models"
)

const embedBatchTimeout = 300 * time.Second

// Result summarizes one pipeline run. Counts are chunk-granular; the
// document set lists documents whose every chunk was acknowledged by the
// vector store, including documents that yielded no chunks at all.
type Result struct {
	SuccessCount                   int
	ErrorCount                     int
	Errors                         []string
	SuccessfullyProcessedDocuments map[string]bool
}

func newResult() *Result {
	return &Result{SuccessfullyProcessedDocuments: make(map[string]bool)}
}

// docTracker follows one document through the stages. A document succeeds
// only when the chunk stage finished it and succeeded == total with nothing
// flagged failed. A chunked document with zero chunks (empty content) counts
// as processed so its state still advances.
type docTracker struct {
	doc       *models.Document
	chunked   bool
	total     int
	succeeded int
	failed    bool
}

type stageState struct {
	mu       sync.Mutex
	trackers map[string]*docTracker
	result   *Result
}

func (s *stageState) tracker(doc *models.Document) *docTracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[doc.ID]
	if !ok {
		t = &docTracker{doc: doc}
		s.trackers[doc.ID] = t
	}
	return t
}

func (s *stageState) lookupDoc(documentID string) *models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.trackers[documentID]; ok {
		return t.doc
	}
	return nil
}

func (s *stageState) failDocument(documentID, message string, chunkCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.trackers[documentID]; ok {
		t.failed = true
	}
	s.result.ErrorCount += chunkCount
	s.result.Errors = append(s.result.Errors, message)
}

func (s *stageState) chunkSucceeded(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.SuccessCount++
	if t, ok := s.trackers[documentID]; ok {
		t.succeeded++
	}
}

// processDocuments runs the three worker stages over docs and returns the
// chunk-granular result. It honors the pipeline-wide timeout: on expiry the
// whole batch is reported failed.
func (p *Pipeline) processDocuments(parent context.Context, docs []*models.Document) *Result {
	if len(docs) == 0 {
		return newResult()
	}

	timeout := time.Duration(p.cfg.Global.Pipeline.TimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	st := &stageState{
		trackers: make(map[string]*docTracker, len(docs)),
		result:   newResult(),
	}
	for _, doc := range docs {
		st.tracker(doc)
	}

	queueCap := p.cfg.Global.Pipeline.QueueCapacity
	docCh := make(chan *models.Document, queueCap)
	chunkCh := make(chan *models.Chunk, queueCap)
	embeddedCh := make(chan *models.EmbeddedChunk, queueCap)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(docCh)
		for _, doc := range docs {
			select {
			case docCh <- doc:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		defer close(chunkCh)
		return p.runWorkers(ctx, p.cfg.Global.Pipeline.MaxChunkWorkers, func() error {
			return p.chunkWorker(ctx, st, docCh, chunkCh)
		})
	})

	g.Go(func() error {
		defer close(embeddedCh)
		return p.runWorkers(ctx, p.cfg.Global.Pipeline.MaxEmbedWorkers, func() error {
			return p.embedWorker(ctx, st, chunkCh, embeddedCh)
		})
	})

	g.Go(func() error {
		return p.runWorkers(ctx, p.cfg.Global.Pipeline.MaxUpsertWorkers, func() error {
			return p.upsertWorker(ctx, st, embeddedCh)
		})
	})

	err := g.Wait()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		timedOut := newResult()
		timedOut.ErrorCount = len(docs)
		timedOut.Errors = []string{fmt.Sprintf("pipeline timed out after %s", timeout)}
		return timedOut
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for id, t := range st.trackers {
		if !t.failed && t.chunked && t.succeeded == t.total {
			st.result.SuccessfullyProcessedDocuments[id] = true
		}
	}
	return st.result
}

// runWorkers runs n copies of fn and waits for all of them.
func (p *Pipeline) runWorkers(ctx context.Context, n int, fn func() error) error {
	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(fn)
	}
	return g.Wait()
}

// chunkWorker pulls documents, chunks each under its adaptive deadline, and
// forwards the chunks in index order.
func (p *Pipeline) chunkWorker(ctx context.Context, st *stageState, in <-chan *models.Document, out chan<- *models.Chunk) error {
	for doc := range in {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunks, err := p.chunkDocument(ctx, doc)
		if err != nil {
			st.failDocument(doc.ID, fmt.Sprintf("chunking %s (%s): %v", doc.Title, doc.ID, err), 1)
			p.metrics.PipelineErrors.WithLabelValues("chunk").Inc()
			continue
		}

		tracker := st.tracker(doc)
		st.mu.Lock()
		tracker.chunked = true
		tracker.total = len(chunks)
		st.mu.Unlock()

		if len(chunks) == 0 {
			slog.Debug("document produced no chunks", "document_id", doc.ID, "title", doc.Title)
			continue
		}

		strategy := p.chunker.StrategyFor(doc.ContentType)
		p.metrics.ChunksProduced.WithLabelValues(strategy).Add(float64(len(chunks)))

		for _, chunk := range chunks {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// chunkDocument applies the adaptive timeout around the CPU-bound chunker
// call. The chunker itself cannot be interrupted; the goroutine is abandoned
// on timeout and its result discarded.
func (p *Pipeline) chunkDocument(ctx context.Context, doc *models.Document) ([]*models.Chunk, error) {
	isHTML := p.chunker.StrategyFor(doc.ContentType) == chunking.StrategyHTML
	isConverted, _ := doc.Metadata[models.PayloadIsConverted].(bool)
	timeout := p.monitor.ChunkTimeout(doc.Size(), isHTML, isConverted)

	_, span := p.tracer.StartChunk(ctx, p.chunker.StrategyFor(doc.ContentType), doc.Size())
	defer span.End()

	type outcome struct {
		chunks []*models.Chunk
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		chunks, err := p.chunker.Chunk(doc)
		done <- outcome{chunks, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			p.tracer.RecordError(span, o.err)
		}
		return o.chunks, o.err
	case <-time.After(timeout):
		err := fmt.Errorf("chunking timed out after %s", timeout)
		p.tracer.RecordError(span, err)
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// embedWorker batches chunks and calls the embedding provider. A failed
// batch marks its chunks' documents failed but the stage continues.
func (p *Pipeline) embedWorker(ctx context.Context, st *stageState, in <-chan *models.Chunk, out chan<- *models.EmbeddedChunk) error {
	batchSize := p.cfg.Global.Embedding.BatchSize

	batch := make([]*models.Chunk, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		toEmbed := batch
		batch = make([]*models.Chunk, 0, batchSize)

		if p.monitor.MaybeGC(0.85) {
			slog.Debug("triggered GC before embedding batch", "batch_size", len(toEmbed))
		}

		embedCtx, cancel := context.WithTimeout(ctx, embedBatchTimeout)
		defer cancel()
		_, span := p.tracer.StartEmbed(embedCtx, len(toEmbed))
		defer span.End()

		texts := make([]string, len(toEmbed))
		for i, c := range toEmbed {
			texts[i] = c.Content
		}
		vectors, err := p.embedder.EmbedBatch(embedCtx, texts)
		if err != nil {
			p.tracer.RecordError(span, err)
			p.metrics.PipelineErrors.WithLabelValues("embed").Inc()
			for _, c := range toEmbed {
				st.failDocument(c.DocumentID, fmt.Sprintf("embedding chunk %d of %s: %v", c.Index, c.DocumentID, err), 1)
			}
			return nil
		}

		p.metrics.EmbeddingsCreated.Add(float64(len(vectors)))
		for i, c := range toEmbed {
			select {
			case out <- &models.EmbeddedChunk{Chunk: c, Vector: vectors[i]}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	for chunk := range in {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch = append(batch, chunk)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// upsertWorker buffers embedded chunks and writes them in batches. A failed
// batch marks every affected document failed.
func (p *Pipeline) upsertWorker(ctx context.Context, st *stageState, in <-chan *models.EmbeddedChunk) error {
	batchSize := p.cfg.Global.Pipeline.UpsertBatchSize

	batch := make([]*models.EmbeddedChunk, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		toUpsert := batch
		batch = make([]*models.EmbeddedChunk, 0, batchSize)

		_, span := p.tracer.StartUpsert(ctx, len(toUpsert))
		defer span.End()

		points := make([]*models.VectorPoint, 0, len(toUpsert))
		for _, ec := range toUpsert {
			doc := st.lookupDoc(ec.Chunk.DocumentID)
			if doc == nil {
				st.failDocument(ec.Chunk.DocumentID, fmt.Sprintf("no document registered for chunk %s", ec.Chunk.ID), 1)
				continue
			}
			points = append(points, &models.VectorPoint{
				ID:      ec.Chunk.ID,
				Vector:  ec.Vector,
				Payload: models.BuildPayload(doc, ec.Chunk),
			})
		}
		if len(points) == 0 {
			return nil
		}

		if err := p.store.UpsertPoints(ctx, points); err != nil {
			p.tracer.RecordError(span, err)
			p.metrics.PipelineErrors.WithLabelValues("upsert").Inc()
			for _, ec := range toUpsert {
				st.failDocument(ec.Chunk.DocumentID, fmt.Sprintf("upserting chunk %d of %s: %v", ec.Chunk.Index, ec.Chunk.DocumentID, err), 1)
			}
			return nil
		}

		p.metrics.PointsUpserted.Add(float64(len(points)))
		for _, ec := range toUpsert {
			st.chunkSucceeded(ec.Chunk.DocumentID)
		}
		return nil
	}

	for ec := range in {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch = append(batch, ec)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}
