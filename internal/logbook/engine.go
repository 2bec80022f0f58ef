package logbook

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/stork/internal/delivery"
	"github.com/MarcoPoloResearchLab/stork/internal/htmlfmt"
	"github.com/MarcoPoloResearchLab/stork/internal/metrics"
)

const (
	// DefaultChunkLimit is the platform's visible-character message limit.
	DefaultChunkLimit = 4096
	// DefaultChunkPause spaces out chunk sends so the log channel never
	// trips the flood limiter.
	DefaultChunkPause = 15 * time.Second
	// DefaultIdlePause is the delay between flush cycles with no work.
	DefaultIdlePause = time.Second
	// DefaultArchiveCutoff triggers an archive whenever a posted message id
	// is an exact multiple of it.
	DefaultArchiveCutoff = 50000

	entrySeparator = "\n"
	splitMarker    = "#split"
)

var (
	errMissingRepository = errors.New("logbook: repository is required")
	errMissingSender     = errors.New("logbook: sender is required")
	noOpLogger           = zap.NewNop()
)

// MessageSender is the delivery surface the engine drains into.
type MessageSender interface {
	Send(ctx context.Context, req delivery.Request) (delivery.Result, error)
}

// EngineConfig describes the dependencies and tuning of a flush engine.
type EngineConfig struct {
	Repository    *Repository
	Sender        MessageSender
	LogsChatID    int64
	BackupsChatID int64
	DevChatID     int64
	BotName       string
	BotUsername   string

	Clock   func() time.Time
	Sleep   delivery.Sleeper
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	ChunkLimit    int
	ChunkPause    time.Duration
	IdlePause     time.Duration
	ArchiveCutoff int64
}

// Engine drains the log queue into the log channel in batched, rate-limited
// chunks, and periodically archives old posted entries into a compressed
// backup blob.
type Engine struct {
	repo          *Repository
	sender        MessageSender
	logsChatID    int64
	backupsChatID int64
	devChatID     int64
	botName       string
	botUsername   string

	clock   func() time.Time
	sleep   delivery.Sleeper
	logger  *zap.Logger
	metrics *metrics.Metrics

	chunkLimit    int
	chunkPause    time.Duration
	idlePause     time.Duration
	archiveCutoff int64
}

// NewEngine constructs a flush engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Repository == nil {
		return nil, errMissingRepository
	}
	if cfg.Sender == nil {
		return nil, errMissingSender
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = delivery.StandardSleeper
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	reported := cfg.Metrics
	if reported == nil {
		reported = metrics.NewNop()
	}

	chunkLimit := cfg.ChunkLimit
	if chunkLimit <= 0 {
		chunkLimit = DefaultChunkLimit
	}
	chunkPause := cfg.ChunkPause
	if chunkPause <= 0 {
		chunkPause = DefaultChunkPause
	}
	idlePause := cfg.IdlePause
	if idlePause <= 0 {
		idlePause = DefaultIdlePause
	}
	archiveCutoff := cfg.ArchiveCutoff
	if archiveCutoff <= 0 {
		archiveCutoff = DefaultArchiveCutoff
	}

	return &Engine{
		repo:          cfg.Repository,
		sender:        cfg.Sender,
		logsChatID:    cfg.LogsChatID,
		backupsChatID: cfg.BackupsChatID,
		devChatID:     cfg.DevChatID,
		botName:       cfg.BotName,
		botUsername:   cfg.BotUsername,
		clock:         clock,
		sleep:         sleep,
		logger:        logger,
		metrics:       reported,
		chunkLimit:    chunkLimit,
		chunkPause:    chunkPause,
		idlePause:     idlePause,
		archiveCutoff: archiveCutoff,
	}, nil
}

// Enqueue appends a preformatted log line to the queue.
func (e *Engine) Enqueue(ctx context.Context, text string) error {
	return e.repo.Insert(ctx, text)
}

// EnqueueEvent appends a log line under the bot's own heading, wrapped in a
// quoted block.
func (e *Engine) EnqueueEvent(ctx context.Context, body string) error {
	heading := Heading(e.clock().UTC(), e.botName, e.botUsername, 0)
	return e.repo.Insert(ctx, htmlfmt.Blockquote(heading+body))
}

// Run drains the queue forever, pausing between cycles. It returns only when
// the context is canceled or a cycle fails; the task supervisor restarts it.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.FlushOnce(ctx); err != nil {
			return err
		}
		if err := e.sleep(ctx, e.idlePause); err != nil {
			return err
		}
	}
}

// batch groups contiguous pending entries into send-sized chunks.
type batch struct {
	text string
	ids  []int64
}

// FlushOnce performs one flush cycle: fetch pending entries, batch them,
// deliver each chunk, and mark delivered entries posted.
func (e *Engine) FlushOnce(ctx context.Context) error {
	entries, err := e.repo.Pending(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	cycleID := uuid.NewString()
	batches := e.buildBatches(entries)
	e.logger.Info("flushing log queue",
		zap.String("cycle_id", cycleID),
		zap.Int("entries", len(entries)),
		zap.Int("chunks", len(batches)))

	for _, chunk := range batches {
		if visibleLength(chunk.text) > e.chunkLimit {
			err = e.sendSplit(ctx, chunk)
		} else {
			_, err = e.sendChunk(ctx, chunk.text, chunk.ids, 0)
		}
		if err != nil {
			return err
		}
		if err := e.sleep(ctx, e.chunkPause); err != nil {
			return err
		}
	}
	return nil
}

// visibleLength measures what the platform counts against its message limit:
// characters after markup is stripped, not bytes. Cyrillic log content is two
// bytes per character, so a byte measure would halve the chunk capacity.
func visibleLength(text string) int {
	return utf8.RuneCountInString(htmlfmt.StripTags(text))
}

// buildBatches greedily concatenates entry texts, measuring chunks on their
// stripped-of-markup length. An entry that does not fit the current chunk
// starts a new one; an entry too large for any chunk travels alone and is
// split at send time.
func (e *Engine) buildBatches(entries []Entry) []batch {
	var batches []batch
	current := batch{}

	for _, entry := range entries {
		candidate := current.text + entry.Text
		if visibleLength(candidate) <= e.chunkLimit {
			current.text = candidate + entrySeparator
			current.ids = append(current.ids, entry.ID)
			continue
		}
		if len(current.ids) > 0 {
			current.text = strings.TrimRight(current.text, entrySeparator)
			batches = append(batches, current)
		}
		current = batch{text: entry.Text + entrySeparator, ids: []int64{entry.ID}}
	}
	if len(current.ids) > 0 {
		current.text = strings.TrimRight(current.text, entrySeparator)
		batches = append(batches, current)
	}
	return batches
}

// sendChunk delivers one chunk to the log channel and marks its entries
// posted. A zero message id means the delivery layer swallowed a benign
// failure; the entries stay pending for the next cycle.
func (e *Engine) sendChunk(ctx context.Context, text string, ids []int64, replyTo int) (delivery.Result, error) {
	result, err := e.sender.Send(ctx, delivery.Request{
		ChatID:             e.logsChatID,
		Text:               text,
		ReplyTo:            replyTo,
		DisableLinkPreview: true,
	})
	if err != nil {
		return delivery.Result{}, err
	}
	if result.MessageID == 0 {
		return result, nil
	}

	if err := e.repo.MarkPosted(ctx, ids, int64(result.MessageID), result.Date); err != nil {
		return delivery.Result{}, err
	}
	e.metrics.ChunksSent.Inc()
	e.metrics.EntriesFlushed.Add(float64(len(ids)))

	if err := e.maybeArchive(ctx, result); err != nil {
		return delivery.Result{}, err
	}
	return result, nil
}

// sendSplit handles a chunk whose rendered form exceeds the platform limit:
// the oversized body goes out first, then a short header marked #split as a
// reply to it. Both sends mark the same entry ids, so a retry of either half
// cannot lose entries.
func (e *Engine) sendSplit(ctx context.Context, chunk batch) error {
	header, body := splitOversized(chunk.text)

	bodyResult, err := e.sendChunk(ctx, body, chunk.ids, 0)
	if err != nil {
		return err
	}

	headerText := strings.TrimSpace(header + "\n" + htmlfmt.Bold("Large message") + ": " + splitMarker)
	_, err = e.sendChunk(ctx, headerText, chunk.ids, bodyResult.MessageID)
	return err
}

// splitOversized peels the first quoted block off an oversized chunk to serve
// as the header; the remainder is the body. A single giant entry has no
// internal boundary and gets an empty header.
func splitOversized(text string) (header, body string) {
	separator := "</blockquote>" + entrySeparator
	idx := strings.Index(text, separator)
	if idx < 0 {
		return "", text
	}
	return text[:idx+len("</blockquote>")], text[idx+len(separator):]
}
