package ingest

import (
	"context"
	"fmt"

	"github.com/qquiz/qquiz/internal/config"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/rs/zerolog/log"
)

// Store is the persistence the pipeline needs. *store.Store satisfies it.
type Store interface {
	UpdateExamStatus(id int64, status models.ExamStatus) error
	ListQuestionFingerprints(examID int64) ([]*models.Question, error)
	InsertQuestions(examID int64, questions []*models.Question) error
	RefreshExamTotal(id int64) (int, error)
}

// Publisher receives progress events. *progress.Broker satisfies it.
type Publisher interface {
	Publish(ev models.ProgressEvent)
}

// Options tunes splitting and deduplication.
type Options struct {
	ChunkThreshold int
	ChunkSize      int
	ChunkOverlap   int
	DedupThreshold float64
}

// OptionsFromConfig converts the ingest section of the configuration.
func OptionsFromConfig(cfg config.IngestConfig) Options {
	return Options{
		ChunkThreshold: cfg.ChunkThreshold,
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		DedupThreshold: cfg.DedupThreshold,
	}
}

// Document is an uploaded file waiting to be parsed.
type Document struct {
	Filename string
	Data     []byte
}

// Result summarises one parse.
type Result struct {
	Extracted      int
	Added          int
	Duplicates     int
	TotalQuestions int
}

// Pipeline parses documents into an exam's question bank and reports
// progress while doing so.
type Pipeline struct {
	store     Store
	publisher Publisher
	extractor Extractor
	opts      Options
}

func NewPipeline(st Store, pub Publisher, ex Extractor, opts Options) *Pipeline {
	if opts.ChunkThreshold <= 0 {
		opts.ChunkThreshold = 5000
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 3000
	}
	return &Pipeline{store: st, publisher: pub, extractor: ex, opts: opts}
}

// Run parses doc into the exam. The exam must already be marked processing.
// On success the exam becomes ready and a completed event is published; on
// any error it becomes failed and a failed event is published.
func (p *Pipeline) Run(ctx context.Context, examID int64, doc Document) (*Result, error) {
	res, err := p.run(ctx, examID, doc)
	if err != nil {
		log.Error().Err(err).Int64("exam_id", examID).Str("file", doc.Filename).Msg("Document parsing failed")
		if uerr := p.store.UpdateExamStatus(examID, models.ExamFailed); uerr != nil {
			log.Error().Err(uerr).Int64("exam_id", examID).Msg("Failed to mark exam as failed")
		}
		p.publisher.Publish(models.ProgressEvent{
			ExamID:   examID,
			Status:   models.ProgressFailed,
			Message:  fmt.Sprintf("Processing failed: %v", err),
			Progress: 0,
		})
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, examID int64, doc Document) (*Result, error) {
	p.publish(examID, models.ProgressParsing, "Parsing document...", 5, nil)

	p.publish(examID, models.ProgressParsing, "Extracting document text...", 10, nil)
	text, err := ExtractText(ctx, doc.Filename, doc.Data)
	if err != nil {
		return nil, err
	}
	log.Info().Int64("exam_id", examID).Int("chars", len([]rune(text))).Msg("Extracted document text")

	var questions []*models.Question
	if len([]rune(text)) > p.opts.ChunkThreshold {
		questions, err = p.extractChunked(ctx, examID, text)
	} else {
		questions, err = p.extractWhole(ctx, examID, text)
	}
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	p.publish(examID, models.ProgressSaving, "Deduplicating and saving questions...", 80, func(ev *models.ProgressEvent) {
		ev.QuestionsExtracted = len(questions)
	})
	res, err := p.save(examID, questions)
	if err != nil {
		return nil, err
	}

	if err := p.store.UpdateExamStatus(examID, models.ExamReady); err != nil {
		return nil, fmt.Errorf("mark exam ready: %w", err)
	}
	log.Info().Int64("exam_id", examID).Int("added", res.Added).Int("duplicates", res.Duplicates).Msg("Document parsed")

	p.publish(examID, models.ProgressCompleted,
		fmt.Sprintf("Done! Added %d questions (%d duplicates removed)", res.Added, res.Duplicates), 100,
		func(ev *models.ProgressEvent) {
			ev.QuestionsExtracted = res.Extracted
			ev.QuestionsAdded = res.Added
			ev.DuplicatesRemoved = res.Duplicates
		})
	return res, nil
}

func (p *Pipeline) extractWhole(ctx context.Context, examID int64, text string) ([]*models.Question, error) {
	p.publish(examID, models.ProgressParsing, "Extracting questions...", 30, nil)
	questions, err := p.extractor.Extract(ctx, text)
	if err != nil {
		return nil, err
	}
	p.publish(examID, models.ProgressDeduplicating, fmt.Sprintf("Extracted %d questions", len(questions)), 60,
		func(ev *models.ProgressEvent) { ev.QuestionsExtracted = len(questions) })
	return questions, nil
}

// extractChunked handles long documents piece by piece. A failing chunk is
// skipped; questions repeated across overlapping chunks are dropped.
func (p *Pipeline) extractChunked(ctx context.Context, examID int64, text string) ([]*models.Question, error) {
	chunks := SplitText(text, p.opts.ChunkSize, p.opts.ChunkOverlap)
	total := len(chunks)
	p.publish(examID, models.ProgressSplitting, fmt.Sprintf("Document split into %d parts", total), 15,
		func(ev *models.ProgressEvent) { ev.TotalChunks = total })

	seen := NewDeduper(p.opts.DedupThreshold)
	var all []*models.Question
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := i + 1
		p.publish(examID, models.ProgressProcessingChunk,
			fmt.Sprintf("Processing part %d/%d...", current, total),
			15+60*float64(current)/float64(total),
			func(ev *models.ProgressEvent) {
				ev.TotalChunks = total
				ev.CurrentChunk = current
				ev.QuestionsExtracted = len(all)
			})

		found, err := p.extractor.Extract(ctx, chunk)
		if err != nil {
			log.Warn().Err(err).Int64("exam_id", examID).Int("chunk", current).Msg("Chunk failed, skipping")
			continue
		}
		for _, q := range found {
			if seen.IsSimilar(q) {
				continue
			}
			seen.Add(q)
			all = append(all, q)
		}
	}

	p.publish(examID, models.ProgressDeduplicating,
		fmt.Sprintf("All parts processed, extracted %d questions", len(all)), 75,
		func(ev *models.ProgressEvent) {
			ev.TotalChunks = total
			ev.CurrentChunk = total
			ev.QuestionsExtracted = len(all)
		})
	return all, nil
}

// save drops questions already in the exam, first by hash and then by
// similarity, and stores the rest.
func (p *Pipeline) save(examID int64, questions []*models.Question) (*Result, error) {
	existing, err := p.store.ListQuestionFingerprints(examID)
	if err != nil {
		return nil, fmt.Errorf("load existing questions: %w", err)
	}
	seen := NewDeduper(p.opts.DedupThreshold)
	for _, q := range existing {
		seen.Add(q)
	}

	res := &Result{Extracted: len(questions)}
	var fresh []*models.Question
	for _, q := range questions {
		if seen.HasHash(q) || seen.IsSimilar(q) {
			res.Duplicates++
			continue
		}
		if q.Answer == "" {
			q.Answer = MissingAnswer
		}
		seen.Add(q)
		fresh = append(fresh, q)
	}

	if len(fresh) > 0 {
		if err := p.store.InsertQuestions(examID, fresh); err != nil {
			return nil, fmt.Errorf("save questions: %w", err)
		}
	}
	res.Added = len(fresh)

	total, err := p.store.RefreshExamTotal(examID)
	if err != nil {
		return nil, fmt.Errorf("count questions: %w", err)
	}
	res.TotalQuestions = total
	return res, nil
}

func (p *Pipeline) publish(examID int64, status models.ProgressStatus, msg string, pct float64, fill func(*models.ProgressEvent)) {
	ev := models.ProgressEvent{
		ExamID:   examID,
		Status:   status,
		Message:  msg,
		Progress: pct,
	}
	if fill != nil {
		fill(&ev)
	}
	p.publisher.Publish(ev)
}
