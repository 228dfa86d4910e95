package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/collection"
	"github.com/hyperjump/kbsearch/internal/docid"
	"github.com/hyperjump/kbsearch/internal/extract"
	"github.com/hyperjump/kbsearch/internal/metrics"
	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/storage"
	"github.com/hyperjump/kbsearch/internal/vector"
)

// Embedder produces one vector per text, all from the same backend.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, string, error)
	EmbedBatchFor(ctx context.Context, backendID string, texts []string) ([][]float32, string, error)
}

// Coordinator turns document events into collection updates. Events for one collection
// are applied under that collection's job lock.
type Coordinator struct {
	registry   *collection.Registry
	store      storage.Storage
	embedder   Embedder
	extractor  *extract.Extractor
	chunker    *Chunker
	queue      chan models.DocumentEvent
	retryDelay time.Duration
	onReport   func(*models.IndexingReport)
	logger     *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets a logger for ingestion events.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithQueueSize sets the capacity of the event queue consumed by Run.
func WithQueueSize(n int) Option {
	return func(c *Coordinator) { c.queue = make(chan models.DocumentEvent, n) }
}

// WithBusyRetryDelay sets how long Run waits before retrying an event whose
// collection was busy.
func WithBusyRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.retryDelay = d }
}

// WithReportHandler receives the report of every event processed by Run.
func WithReportHandler(fn func(*models.IndexingReport)) Option {
	return func(c *Coordinator) { c.onReport = fn }
}

// NewCoordinator creates a coordinator. chunkSize and chunkOverlap are in tokens.
func NewCoordinator(
	registry *collection.Registry,
	store storage.Storage,
	embedder Embedder,
	extractor *extract.Extractor,
	chunkSize, chunkOverlap int,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		registry:   registry,
		store:      store,
		embedder:   embedder,
		extractor:  extractor,
		chunker:    NewChunker(chunkSize, chunkOverlap),
		queue:      make(chan models.DocumentEvent, 256),
		retryDelay: time.Second,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.extractor == nil {
		c.extractor = extract.NewExtractor()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// OnDocumentChanged queues a change event. contentHash may be empty.
func (c *Coordinator) OnDocumentChanged(ctx context.Context, botID, kbName, sourceURI, contentHash string) error {
	return c.Enqueue(ctx, models.DocumentEvent{
		Kind:        models.EventChanged,
		BotID:       botID,
		KBName:      kbName,
		SourceURI:   sourceURI,
		ContentHash: contentHash,
	})
}

// OnDocumentRemoved queues a removal event.
func (c *Coordinator) OnDocumentRemoved(ctx context.Context, botID, kbName, sourceURI string) error {
	return c.Enqueue(ctx, models.DocumentEvent{
		Kind:      models.EventRemoved,
		BotID:     botID,
		KBName:    kbName,
		SourceURI: sourceURI,
	})
}

// Enqueue pushes ev onto the queue, blocking while it is full.
func (c *Coordinator) Enqueue(ctx context.Context, ev models.DocumentEvent) error {
	select {
	case c.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes queued events one at a time until ctx is done. An event whose
// collection is busy is queued again after the retry delay.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.queue:
			report, err := c.ingestCollection(ctx, ev.BotID, ev.KBName, []models.DocumentEvent{ev})
			if errors.Is(err, models.ErrCollectionBusy) {
				c.logger.Debug("Collection busy, retrying event later",
					zap.String("collection", models.CollectionName(ev.BotID, ev.KBName)),
					zap.String("source", ev.SourceURI))
				c.requeueLater(ctx, ev)
				continue
			}
			if err != nil {
				c.logger.Warn("Event dropped",
					zap.String("collection", models.CollectionName(ev.BotID, ev.KBName)),
					zap.String("source", ev.SourceURI),
					zap.Error(err))
				continue
			}
			if c.onReport != nil {
				c.onReport(report)
			}
		}
	}
}

func (c *Coordinator) requeueLater(ctx context.Context, ev models.DocumentEvent) {
	go func() {
		timer := time.NewTimer(c.retryDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			_ = c.Enqueue(ctx, ev)
		}
	}()
}

// IngestBatch applies events synchronously and returns one report for the run.
// Events are grouped per collection in order of first appearance. Per-document
// failures are recorded in the report and never stop the batch; a busy collection
// fails all of its events.
func (c *Coordinator) IngestBatch(ctx context.Context, events []models.DocumentEvent) *models.IndexingReport {
	report := newReport("")
	var order []string
	groups := make(map[string][]models.DocumentEvent)
	for _, ev := range events {
		name := models.CollectionName(ev.BotID, ev.KBName)
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], ev)
	}
	if len(order) == 1 {
		report.Collection = order[0]
	}
	for _, name := range order {
		group := groups[name]
		sub, err := c.ingestCollection(ctx, group[0].BotID, group[0].KBName, group)
		if err != nil {
			for _, ev := range group {
				report.AddError(ev.SourceURI, err)
			}
			continue
		}
		report.Merge(sub)
		if sub.Cancelled {
			break
		}
	}
	report.FinishedAt = time.Now().UTC()
	return report
}

// IngestCollection applies events to the collection (botID, kbName) in one job. Unlike
// IngestBatch it returns the error that kept the job from starting, such as
// models.ErrCollectionBusy, instead of recording it per event.
func (c *Coordinator) IngestCollection(ctx context.Context, botID, kbName string, events []models.DocumentEvent) (*models.IndexingReport, error) {
	for i := range events {
		events[i].BotID = botID
		events[i].KBName = kbName
	}
	return c.ingestCollection(ctx, botID, kbName, events)
}

// IngestText indexes text supplied directly by the caller under sourceURI.
func (c *Coordinator) IngestText(ctx context.Context, botID, kbName, sourceURI, format, text string) *models.IndexingReport {
	if format == "" {
		format = extract.FormatOf(sourceURI)
	}
	return c.IngestBatch(ctx, []models.DocumentEvent{{
		Kind:      models.EventChanged,
		BotID:     botID,
		KBName:    kbName,
		SourceURI: sourceURI,
		Format:    format,
		Content:   []byte(text),
	}})
}

// IndexDirectory walks dir recursively and ingests each regular file whose extension
// is in allowedExts (all files when allowedExts is empty).
func (c *Coordinator) IndexDirectory(ctx context.Context, botID, kbName, dir string, allowedExts []string) (*models.IndexingReport, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var events []models.DocumentEvent
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !ExtensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		events = append(events, models.DocumentEvent{
			Kind:      models.EventChanged,
			BotID:     botID,
			KBName:    kbName,
			SourceURI: path,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.IngestBatch(ctx, events), nil
}

// ExtensionAllowed reports whether ext is in allowed, ignoring case and the leading dot.
// An empty allowed list accepts everything.
func ExtensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

func newReport(collection string) *models.IndexingReport {
	return &models.IndexingReport{
		RunID:      uuid.New().String(),
		Collection: collection,
		Errors:     []models.IndexingError{},
		StartedAt:  time.Now().UTC(),
	}
}

// ingestCollection applies events to one collection under its job lock. The only
// error returned is the one that prevented the job from starting.
func (c *Coordinator) ingestCollection(ctx context.Context, botID, kbName string, events []models.DocumentEvent) (*models.IndexingReport, error) {
	col := c.registry.GetOrCreate(botID, kbName)
	report := newReport(col.Name())

	job, err := col.BeginIngest()
	if err != nil {
		return nil, err
	}
	defer job.Abort()

	// A document that has started runs to completion; cancellation is only
	// observed between documents. Backend calls stay bounded by their timeouts.
	docCtx := context.WithoutCancel(ctx)
	for _, ev := range events {
		if ctx.Err() != nil {
			report.Cancelled = true
			c.logger.Info("Ingestion cancelled",
				zap.String("collection", col.Name()),
				zap.Int("processed", report.DocumentsProcessed))
			break
		}
		switch ev.Kind {
		case models.EventRemoved:
			c.removeDocument(docCtx, job, ev, report)
		default:
			c.indexDocument(docCtx, job, ev, report)
		}
	}

	if col.Stats().ChunkCount > 0 {
		job.Finish(models.StatusReady)
	}
	report.FinishedAt = time.Now().UTC()
	c.logger.Info("Ingestion finished",
		zap.String("collection", col.Name()),
		zap.String("run_id", report.RunID),
		zap.Int("processed", report.DocumentsProcessed),
		zap.Int("skipped", report.DocumentsSkipped),
		zap.Int("failed", report.DocumentsFailed),
		zap.Int("chunks_indexed", report.ChunksIndexed),
		zap.Int("chunks_removed", report.ChunksRemoved))
	return report, nil
}

func (c *Coordinator) fail(report *models.IndexingReport, sourceURI string, err error) {
	report.AddError(sourceURI, err)
	metrics.DocumentsIngestedTotal.WithLabelValues("failed").Inc()
	c.logger.Warn("Document not indexed", zap.String("source", sourceURI), zap.Error(err))
}

func (c *Coordinator) indexDocument(ctx context.Context, job *collection.Job, ev models.DocumentEvent, report *models.IndexingReport) {
	col := job.Collection()
	docID := docid.DocumentID(ev.BotID, ev.KBName, ev.SourceURI)
	existing, _, tracked := col.Document(docID)

	if tracked && ev.ContentHash != "" && existing.ContentHash == ev.ContentHash {
		c.skip(report, ev.SourceURI)
		return
	}
	format := ev.Format
	if format == "" {
		format = extract.FormatOf(ev.SourceURI)
	}
	content, err := readContent(ev, format)
	if err != nil {
		c.fail(report, ev.SourceURI, &models.ExtractionError{SourceURI: ev.SourceURI, Err: err})
		return
	}
	hash := ev.ContentHash
	if hash == "" {
		hash = docid.ContentHash(content)
	}
	if tracked && existing.ContentHash == hash {
		c.skip(report, ev.SourceURI)
		return
	}

	text, err := c.extractor.ExtractBytes(content, format)
	if err != nil {
		c.fail(report, ev.SourceURI, &models.ExtractionError{SourceURI: ev.SourceURI, Err: err})
		return
	}
	chunks := c.chunker.Chunk(docID, Preprocess(text))
	if len(chunks) == 0 {
		c.logger.Info("Document has no text", zap.String("source", ev.SourceURI))
	}

	var backendID string
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Text
		}
		vecs, id, err := c.embedder.EmbedBatchFor(ctx, col.BackendID(), texts)
		if err != nil {
			c.fail(report, ev.SourceURI, fmt.Errorf("embed: %w", err))
			return
		}
		backendID = id
		for i, ch := range chunks {
			ch.Embedding = vecs[i]
			ch.BackendID = backendID
		}
	}

	doc := &models.Document{
		ID:          docID,
		BotID:       ev.BotID,
		KBName:      ev.KBName,
		SourceURI:   ev.SourceURI,
		Format:      format,
		ContentHash: hash,
		IngestedAt:  time.Now().UTC(),
	}
	removed, err := job.IndexDocument(ctx, doc, chunks, backendID)
	if err != nil {
		if errors.Is(err, models.ErrConfigurationMismatch) {
			c.logger.Error("Embedding backend does not match collection; reindex required",
				zap.String("collection", col.Name()), zap.Error(err))
		}
		c.fail(report, ev.SourceURI, err)
		return
	}
	if err := c.store.SaveDocument(ctx, doc, chunks); err != nil {
		c.logger.Warn("Failed to persist document", zap.String("source", ev.SourceURI), zap.Error(err))
		report.AddWarning(ev.SourceURI, fmt.Errorf("persist: %w", err))
	}

	report.DocumentsProcessed++
	report.ChunksIndexed += len(chunks)
	report.ChunksRemoved += removed
	metrics.DocumentsIngestedTotal.WithLabelValues("indexed").Inc()
	metrics.ChunksIndexedTotal.Add(float64(len(chunks)))
	c.logger.Debug("Document indexed",
		zap.String("source", ev.SourceURI),
		zap.String("document_id", docID),
		zap.Int("chunks", len(chunks)),
		zap.String("backend", backendID))
}

func (c *Coordinator) skip(report *models.IndexingReport, sourceURI string) {
	report.DocumentsSkipped++
	metrics.DocumentsIngestedTotal.WithLabelValues("skipped").Inc()
	c.logger.Debug("Document unchanged", zap.String("source", sourceURI))
}

func (c *Coordinator) removeDocument(ctx context.Context, job *collection.Job, ev models.DocumentEvent, report *models.IndexingReport) {
	docID := docid.DocumentID(ev.BotID, ev.KBName, ev.SourceURI)
	n, ok := job.RemoveDocument(ctx, docID)
	if err := c.store.DeleteDocument(ctx, docID); err != nil {
		c.logger.Warn("Failed to delete persisted document", zap.String("source", ev.SourceURI), zap.Error(err))
	}
	report.DocumentsProcessed++
	report.ChunksRemoved += n
	if ok {
		metrics.DocumentsIngestedTotal.WithLabelValues("removed").Inc()
	}
	c.logger.Debug("Document removed",
		zap.String("source", ev.SourceURI),
		zap.Bool("tracked", ok),
		zap.Int("chunks", n))
}

// readContent returns the event's inline content or reads the file it names.
// Content above the size limit for format is rejected before it is read.
func readContent(ev models.DocumentEvent, format string) ([]byte, error) {
	if ev.Content != nil {
		if err := extract.CheckSize(format, int64(len(ev.Content))); err != nil {
			return nil, err
		}
		return ev.Content, nil
	}
	path := ev.SourceURI
	if strings.HasPrefix(path, "file://") {
		path = strings.TrimPrefix(path, "file://")
	} else if strings.Contains(path, "://") {
		return nil, fmt.Errorf("no content supplied for %s", path)
	}
	return extract.ReadFile(path, format)
}

// Reindex re-embeds every stored chunk of a collection with the current backend chain
// and swaps the new vector partition in. Searches keep using the old partition until
// the swap.
func (c *Coordinator) Reindex(ctx context.Context, botID, kbName string) (*models.IndexingReport, error) {
	col, ok := c.registry.Get(botID, kbName)
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", models.CollectionName(botID, kbName), models.ErrNotFound)
	}
	job, err := col.BeginReindex()
	if err != nil {
		return nil, err
	}
	defer job.Abort()

	report := newReport(col.Name())
	chunks, err := c.store.ListChunks(ctx, col.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	idx := vector.NewMemoryIndex(col.Name())
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Text
		}
		vecs, backendID, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks: %w", err)
		}
		points := make([]vector.Point, len(chunks))
		for i, ch := range chunks {
			ch.Embedding = vecs[i]
			ch.BackendID = backendID
			var sourceURI string
			if doc, _, ok := col.Document(ch.DocumentID); ok {
				sourceURI = doc.SourceURI
			}
			points[i] = vector.Point{
				ID:     ch.ID,
				Vector: ch.Embedding,
				Payload: vector.Payload{
					DocumentID:    ch.DocumentID,
					SourceURI:     sourceURI,
					SequenceIndex: ch.SequenceIndex,
					Text:          ch.Text,
				},
			}
		}
		if err := idx.Upsert(ctx, backendID, points); err != nil {
			return nil, err
		}
		if err := c.store.UpdateEmbeddings(ctx, chunks); err != nil {
			return nil, fmt.Errorf("failed to persist embeddings: %w", err)
		}
		c.logger.Info("Collection re-embedded",
			zap.String("collection", col.Name()),
			zap.String("backend", backendID),
			zap.Int("chunks", len(chunks)))
	}
	job.SwapVectors(idx)
	job.Finish(models.StatusReady)

	report.DocumentsProcessed = len(col.Documents())
	report.ChunksIndexed = len(chunks)
	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// DeleteCollection drops both partitions and every stored row of the collection.
func (c *Coordinator) DeleteCollection(ctx context.Context, botID, kbName string) error {
	col, ok := c.registry.Get(botID, kbName)
	if !ok {
		return fmt.Errorf("collection %s: %w", models.CollectionName(botID, kbName), models.ErrNotFound)
	}
	job, err := col.BeginDelete()
	if err != nil {
		return err
	}
	defer job.Abort()

	if err := c.store.DeleteCollection(ctx, col.Name()); err != nil {
		return fmt.Errorf("failed to delete stored collection: %w", err)
	}
	job.Clear()
	job.Finish(models.StatusGone)
	c.registry.Remove(col.Name())
	c.logger.Info("Collection deleted", zap.String("collection", col.Name()))
	return nil
}

// Restore rebuilds every collection known to storage: chunk text feeds BM25 and the
// stored vectors feed the vector partition.
func (c *Coordinator) Restore(ctx context.Context) error {
	refs, err := c.store.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, ref := range refs {
		if err := c.restoreCollection(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) restoreCollection(ctx context.Context, ref storage.CollectionRef) error {
	col := c.registry.GetOrCreate(ref.BotID, ref.KBName)
	job, err := col.BeginIngest()
	if err != nil {
		return err
	}
	defer job.Abort()

	docs, err := c.store.ListDocuments(ctx, ref.Name)
	if err != nil {
		return fmt.Errorf("failed to list documents of %s: %w", ref.Name, err)
	}
	chunks, err := c.store.ListChunks(ctx, ref.Name)
	if err != nil {
		return fmt.Errorf("failed to list chunks of %s: %w", ref.Name, err)
	}
	byDoc := make(map[string][]*models.TextChunk)
	for _, ch := range chunks {
		byDoc[ch.DocumentID] = append(byDoc[ch.DocumentID], ch)
	}
	for _, doc := range docs {
		docChunks := byDoc[doc.ID]
		var backendID string
		if len(docChunks) > 0 {
			backendID = docChunks[0].BackendID
		}
		if _, err := job.IndexDocument(ctx, doc, docChunks, backendID); err != nil {
			c.logger.Warn("Skipping stored document",
				zap.String("collection", ref.Name),
				zap.String("source", doc.SourceURI),
				zap.Error(err))
		}
	}
	if col.Stats().ChunkCount > 0 {
		job.Finish(models.StatusReady)
	}
	c.logger.Info("Collection restored",
		zap.String("collection", ref.Name),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)))
	return nil
}

// GetCollectionStats returns a snapshot for (bot, kb). An unknown collection reports
// status not_exists with zero counts.
func (c *Coordinator) GetCollectionStats(botID, kbName string) models.CollectionStats {
	col, ok := c.registry.Get(botID, kbName)
	if !ok {
		return models.CollectionStats{
			Name:   models.CollectionName(botID, kbName),
			Status: models.StatusNotExists,
		}
	}
	return col.Stats()
}

// Statistics aggregates all collections and the size of the metadata database.
func (c *Coordinator) Statistics() models.KBStatistics {
	st := c.registry.Statistics()
	if sizer, ok := c.store.(interface{ SizeBytes() (int64, error) }); ok {
		if n, err := sizer.SizeBytes(); err == nil {
			st.StorageBytes = n
		}
	}
	return st
}
