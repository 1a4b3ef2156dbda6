package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/globalbrain-ai/globalbrain/internal/core"
	"github.com/globalbrain-ai/globalbrain/internal/log"
	"github.com/globalbrain-ai/globalbrain/internal/models"
)

var (
	// ErrAlreadyProcessing rejects a second run for a document that is
	// being processed. At most one run per document id, ever.
	ErrAlreadyProcessing = errors.New("document is already processing")

	ErrDocumentNotFound = errors.New("document not found")
)

// Config tunes the ingestion pipeline.
type Config struct {
	Bucket           string
	TargetTokens     int
	OverlapTokens    int
	MinChunkChars    int
	EmbedConcurrency int
	EmbedMaxRetries  int
	EmbedRPS         float64
	ProcessTimeout   time.Duration
	QueueSize        int
}

func (c *Config) applyDefaults() {
	if c.TargetTokens <= 0 {
		c.TargetTokens = 400
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = 0
	}
	if c.MinChunkChars <= 0 {
		c.MinChunkChars = DefaultMinChunkChars
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = 4
	}
	if c.EmbedMaxRetries <= 0 {
		c.EmbedMaxRetries = 3
	}
	if c.EmbedRPS <= 0 {
		c.EmbedRPS = 10
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 5 * time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

// ArtifactHook runs after a document finishes processing, with the
// persisted chunks. Used for summaries and flashcards. Best-effort:
// hook failures never change the document status.
type ArtifactHook func(ctx context.Context, doc *models.Document, chunks []models.Chunk)

// Orchestrator drives the document state machine:
//
//	uploaded -> processing -> completed | completed_with_warnings | failed
//
// Extraction failure is fatal to the document. Per-chunk embedding
// failures degrade the result to completed_with_warnings. Reprocessing
// a finished document resets its chunks, refs and vectors first.
type Orchestrator struct {
	db        core.DbClient
	obj       core.ObjectClient
	extractor core.TextExtractor
	embedder  core.EmbeddingProvider
	index     core.VectorIndex
	cfg       Config
	logger    log.Logger
	hook      ArtifactHook

	limiter *rate.Limiter
	jobs    chan string

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewOrchestrator(
	db core.DbClient,
	obj core.ObjectClient,
	extractor core.TextExtractor,
	embedder core.EmbeddingProvider,
	index core.VectorIndex,
	cfg Config,
	logger log.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	burst := int(cfg.EmbedRPS)
	if burst < 1 {
		burst = 1
	}
	return &Orchestrator{
		db:        db,
		obj:       obj,
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		cfg:       cfg,
		logger:    logger.With("component", "ingest"),
		limiter:   rate.NewLimiter(rate.Limit(cfg.EmbedRPS), burst),
		jobs:      make(chan string, cfg.QueueSize),
		inflight:  make(map[string]struct{}),
	}
}

// SetArtifactHook registers the post-processing hook.
func (o *Orchestrator) SetArtifactHook(h ArtifactHook) {
	o.hook = h
}

// Start runs worker goroutines reading from the jobs channel. Documents
// for different users process in parallel; per-document serialization
// is handled inside Process.
func (o *Orchestrator) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for w := 1; w <= workers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					return
				case docID := <-o.jobs:
					if err := o.Process(ctx, docID); err != nil {
						o.logger.Error("processing failed", "document_id", docID, "worker", w, "error", err)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules a document for ingestion. Blocks when the queue is
// full.
func (o *Orchestrator) Enqueue(docID string) {
	o.jobs <- docID
}

// StaleProcessing reports whether a document stuck in the processing
// state has been there longer than the run timeout. Every active run
// dies by then, so the status is a leftover from a crashed run and a
// new run may take over.
func (o *Orchestrator) StaleProcessing(doc *models.Document) bool {
	return doc != nil &&
		doc.Status == models.StatusProcessing &&
		time.Since(doc.UpdatedAt) >= o.cfg.ProcessTimeout
}

// Process runs the full pipeline for one document, synchronously.
// A second call for the same document while one is running returns
// ErrAlreadyProcessing.
func (o *Orchestrator) Process(ctx context.Context, docID string) error {
	if !o.acquire(docID) {
		return ErrAlreadyProcessing
	}
	defer o.release(docID)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ProcessTimeout)
	defer cancel()

	doc, err := o.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	if doc.Status == models.StatusProcessing && !o.StaleProcessing(doc) {
		return ErrAlreadyProcessing
	}

	// Reindex: wipe previous chunks, refs and vectors so the run is
	// idempotent.
	if doc.Status != models.StatusUploaded {
		if err := o.reset(ctx, docID); err != nil {
			return fmt.Errorf("reset document: %w", err)
		}
	}

	if err := o.db.UpdateDocumentStatus(ctx, docID, models.StatusProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	chunks, failedEmbeds, err := o.run(ctx, doc)
	if err != nil {
		o.logger.Error("document failed", "document_id", docID, "error", err)
		if uerr := o.db.UpdateDocumentStatus(ctx, docID, models.StatusFailed, err.Error()); uerr != nil {
			o.logger.Error("status update failed", "document_id", docID, "error", uerr)
		}
		return err
	}

	status := models.StatusCompleted
	message := ""
	if failedEmbeds > 0 {
		status = models.StatusCompletedWithWarnings
		message = fmt.Sprintf("%d of %d chunks missing embeddings", failedEmbeds, len(chunks))
		o.logger.Warn("document completed with warnings", "document_id", docID, "missing_embeddings", failedEmbeds)
	}
	if err := o.db.UpdateDocumentStatus(ctx, docID, status, message); err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}

	if o.hook != nil && len(chunks) > 0 {
		o.hook(ctx, doc, chunks)
	}

	o.logger.Info("document processed", "document_id", docID, "chunks", len(chunks), "status", status)
	return nil
}

// run performs extract -> chunk -> dedupe -> embed -> index -> persist.
// The returned error is fatal for the document.
func (o *Orchestrator) run(ctx context.Context, doc *models.Document) (chunks []models.Chunk, failedEmbeds int, err error) {
	data, err := o.obj.GetFile(ctx, o.cfg.Bucket, doc.StorageKey)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch source: %w", err)
	}

	ext, err := o.extractor.Extract(ctx, data, doc.MIMEType)
	if err != nil {
		return nil, 0, fmt.Errorf("extract: %w", err)
	}

	pieces := ChunkBlocks(ext.Blocks, o.cfg.TargetTokens, o.cfg.OverlapTokens, o.cfg.MinChunkChars)
	if len(pieces) == 0 {
		if err := o.db.UpdateDocumentCounts(ctx, doc.ID, 0, 0); err != nil {
			return nil, 0, fmt.Errorf("update counts: %w", err)
		}
		return nil, 0, nil
	}

	now := time.Now()
	totalTokens := 0
	chunks = make([]models.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = models.Chunk{
			ID:           uuid.NewString(),
			DocumentID:   doc.ID,
			Index:        p.Index,
			Text:         p.Text,
			TokenCount:   p.TokenCount,
			Fingerprint:  Fingerprint(p.Text),
			SectionTitle: p.Section,
			PageNumber:   p.Page,
			CreatedAt:    now,
		}
		totalTokens += p.TokenCount
	}

	// One embedding per distinct fingerprint; the reference is shared by
	// every chunk carrying that fingerprint.
	canonical := make(map[string]*models.Chunk)
	var order []string
	for i := range chunks {
		fp := chunks[i].Fingerprint
		if _, seen := canonical[fp]; !seen {
			canonical[fp] = &chunks[i]
			order = append(order, fp)
		}
	}

	vectors := make(map[string][]float32, len(order))
	var vecMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.EmbedConcurrency)
	for _, fp := range order {
		fp := fp
		text := canonical[fp].Text
		g.Go(func() error {
			// A fingerprint already embedded for another document can
			// reuse the stored vector instead of another provider call.
			if vec, ok := o.reuseEmbedding(gctx, fp); ok {
				vecMu.Lock()
				vectors[fp] = vec
				vecMu.Unlock()
				return nil
			}
			vec, err := o.embedWithRetry(gctx, text)
			if err != nil {
				// Chunk-level degradation, not document failure.
				o.logger.Warn("embedding failed after retries", "document_id", doc.ID, "fingerprint", fp[:12], "error", err)
				return nil
			}
			vecMu.Lock()
			vectors[fp] = vec
			vecMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("embed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	if err := o.db.InsertChunks(ctx, chunks); err != nil {
		return nil, 0, fmt.Errorf("insert chunks: %w", err)
	}

	entries := make([]core.VectorEntry, 0, len(vectors))
	for fp, vec := range vectors {
		c := canonical[fp]
		entries = append(entries, core.VectorEntry{
			ID:         "vec_" + c.ID,
			Embedding:  vec,
			UserID:     doc.UserID,
			DocumentID: doc.ID,
			ChunkID:    c.ID,
			Provider:   o.embedder.Provider(),
			Model:      o.embedder.Model(),
		})
	}
	if err := o.index.Upsert(ctx, entries); err != nil {
		return nil, 0, fmt.Errorf("index vectors: %w", err)
	}

	var refs []models.EmbeddingRef
	for i := range chunks {
		fp := chunks[i].Fingerprint
		if _, ok := vectors[fp]; !ok {
			failedEmbeds++
			continue
		}
		refs = append(refs, models.EmbeddingRef{
			ID:        uuid.NewString(),
			ChunkID:   chunks[i].ID,
			Provider:  o.embedder.Provider(),
			Model:     o.embedder.Model(),
			Dimension: o.embedder.Dimension(),
			VectorRef: "vec_" + canonical[fp].ID,
			CreatedAt: now,
		})
	}
	if err := o.db.InsertEmbeddingRefs(ctx, refs); err != nil {
		return nil, 0, fmt.Errorf("insert embedding refs: %w", err)
	}

	if err := o.db.UpdateDocumentCounts(ctx, doc.ID, len(chunks), totalTokens); err != nil {
		return nil, 0, fmt.Errorf("update counts: %w", err)
	}

	return chunks, failedEmbeds, nil
}

// reuseEmbedding returns the stored vector for a fingerprint embedded
// earlier under the same (provider, model), if one exists. Lookup
// failures just fall back to embedding.
func (o *Orchestrator) reuseEmbedding(ctx context.Context, fp string) ([]float32, bool) {
	ref, err := o.db.FindVectorRefByFingerprint(ctx, fp, o.embedder.Provider(), o.embedder.Model())
	if err != nil {
		o.logger.Warn("fingerprint lookup failed", "error", err)
		return nil, false
	}
	if ref == "" {
		return nil, false
	}
	entries, err := o.index.Fetch(ctx, []string{ref})
	if err != nil || len(entries) == 0 || len(entries[0].Embedding) == 0 {
		return nil, false
	}
	return entries[0].Embedding, true
}

// embedWithRetry embeds one text with rate limiting and exponential
// backoff. Attempts are bounded; an exhausted budget surfaces as an
// error for the caller to degrade on.
func (o *Orchestrator) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	op := func() error {
		if err := o.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		vecs, err := o.embedder.EmbedTexts(ctx, []string{text})
		if err != nil {
			return err
		}
		if len(vecs) != 1 {
			return backoff.Permanent(fmt.Errorf("embedder returned %d vectors for 1 text", len(vecs)))
		}
		vec = vecs[0]
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(o.cfg.EmbedMaxRetries)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return vec, nil
}

// reset removes a document's chunks, embedding refs and vector entries
// ahead of a reindex. The vector side is best-effort: a failed index
// delete is logged, never silent, and does not block the re-run since
// the entries are overwritten by id on the next pass.
func (o *Orchestrator) reset(ctx context.Context, docID string) error {
	refs, err := o.db.ListVectorRefsByDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("list vector refs: %w", err)
	}
	if len(refs) > 0 {
		if err := o.index.Delete(ctx, refs); err != nil {
			o.logger.Error("vector delete failed during reset", "document_id", docID, "count", len(refs), "error", err)
		}
	}
	if err := o.db.DeleteChunksByDocument(ctx, docID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (o *Orchestrator) acquire(docID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, held := o.inflight[docID]; held {
		return false
	}
	o.inflight[docID] = struct{}{}
	return true
}

func (o *Orchestrator) release(docID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, docID)
}
