package logbook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/stork/internal/delivery"
	"github.com/MarcoPoloResearchLab/stork/internal/htmlfmt"
)

// archivePayload is the serialized form of an archive blob.
type archivePayload struct {
	BotIdentity string    `json:"bot_identity"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Data        []string  `json:"data"`
}

// maybeArchive rotates posted entries into a compressed backup whenever the
// just-posted message id lands on an archive boundary.
func (e *Engine) maybeArchive(ctx context.Context, result delivery.Result) error {
	if result.MessageID == 0 || int64(result.MessageID)%e.archiveCutoff != 0 {
		return nil
	}
	return e.archivePosted(ctx, int64(result.MessageID))
}

// archivePosted collects every posted entry, uploads them as a compressed
// JSON document to the backups channel, and deletes them only once the
// upload is confirmed. The developer notification afterwards is best effort.
func (e *Engine) archivePosted(ctx context.Context, boundaryID int64) error {
	entries, err := e.repo.Posted(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	payload := archivePayload{
		BotIdentity: e.botUsername,
		Data:        make([]string, 0, len(entries)),
	}
	ids := make([]int64, 0, len(entries))
	for _, entry := range entries {
		payload.Data = append(payload.Data, entry.Text)
		ids = append(ids, entry.ID)
	}
	if entries[0].PostedAt != nil {
		payload.StartDate = *entries[0].PostedAt
	}
	if last := entries[len(entries)-1]; last.PostedAt != nil {
		payload.EndDate = *last.PostedAt
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("logbook: encode archive: %w", err)
	}
	compressed, err := compressArchive(raw)
	if err != nil {
		return err
	}

	// The filename carries the channel message-id range the archive covers,
	// so an operator can locate the gap in the log channel.
	name := fmt.Sprintf("logs_%s_from_%d_to_%d.json.zst",
		strings.ToLower(e.botUsername),
		boundaryID-int64(len(entries)),
		boundaryID)

	upload, err := e.sender.Send(ctx, delivery.Request{
		ChatID: e.backupsChatID,
		Text:   htmlfmt.Code(fmt.Sprintf("%d", boundaryID)) + " log archive",
		File:   &delivery.File{Name: name, Data: compressed},
	})
	if err != nil {
		return fmt.Errorf("logbook: upload archive: %w", err)
	}
	if upload.MessageID == 0 {
		return fmt.Errorf("logbook: archive upload unconfirmed, keeping %d entries", len(entries))
	}

	if err := e.repo.RemovePosted(ctx, ids); err != nil {
		return err
	}
	e.metrics.ArchivesSaved.Inc()
	e.logger.Info("archived posted log entries",
		zap.Int("entries", len(entries)),
		zap.Int64("boundary_id", boundaryID),
		zap.String("file", name))

	notice := htmlfmt.Bold(fmt.Sprintf("Archived %d log entries of @%s:", len(entries), e.botUsername)) +
		"\n" + channelLink(e.backupsChatID, upload.MessageID)
	if _, err := e.sender.Send(ctx, delivery.Request{
		ChatID: e.devChatID,
		Text:   notice,
		Silent: true,
	}); err != nil {
		e.logger.Warn("archive notification failed", zap.Error(err))
	}
	return nil
}

// channelLink builds the t.me address of a channel message. Supergroup and
// channel ids carry a -100 prefix that the web form drops.
func channelLink(chatID int64, messageID int) string {
	path := strings.TrimPrefix(fmt.Sprintf("%d", chatID), "-100")
	return fmt.Sprintf("https://t.me/c/%s/%d", path, messageID)
}

func compressArchive(raw []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("logbook: init compressor: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(raw, nil), nil
}
