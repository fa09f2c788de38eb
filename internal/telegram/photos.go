package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"receipt-bot/internal/async"
)

// photoBatch collects the photos of one receipt. Telegram delivers album
// photos as separate messages sharing a MediaGroupID, so the batch waits
// a debounce window for stragglers before processing.
type photoBatch struct {
	mu     sync.Mutex
	userID int64
	chatID int64
	images [][]byte
	timer  *time.Timer
}

func (r *Router) acceptPhoto(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	// Largest size last.
	ph := msg.Photo[len(msg.Photo)-1]
	data, err := r.downloadFile(ctx, ph.FileID)
	if err != nil {
		r.logger.Error("telegram.photo.download_failed", "chat_id", chatID, "error", err)
		r.send(chatID, "Couldn't download that photo, please resend it.")
		return
	}

	key := fmt.Sprintf("chat:%d", chatID)
	if msg.MediaGroupID != "" {
		key = "grp:" + msg.MediaGroupID
	}

	bi, _ := r.batches.LoadOrStore(key, &photoBatch{
		userID: userID,
		chatID: chatID,
		images: make([][]byte, 0, 4),
	})
	b := bi.(*photoBatch)

	b.mu.Lock()
	b.images = append(b.images, data)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(r.cfg.PhotoDebounce, func() { r.flushBatch(key) })
	b.mu.Unlock()
}

func (r *Router) flushBatch(key string) {
	bi, ok := r.batches.LoadAndDelete(key)
	if !ok {
		return
	}
	b := bi.(*photoBatch)

	b.mu.Lock()
	images := append([][]byte(nil), b.images...)
	userID, chatID := b.userID, b.chatID
	b.mu.Unlock()

	if len(images) == 0 {
		return
	}

	r.logger.Info("telegram.photo.batch", "chat_id", chatID, "photos", len(images))
	r.send(chatID, "Got it, reading the receipt…")
	_ = r.queue.Enqueue(context.Background(), async.Job{
		UserID: userID,
		ChatID: chatID,
		Images: images,
	})
}

// handleIngestJob is the async queue handler: it runs the pipeline and
// reports the outcome back to the chat. Validation problems are final
// (retrying won't fix the receipt), so they reply and return nil.
func (r *Router) handleIngestJob(ctx context.Context, job async.Job) error {
	res, err := r.ingest.ProcessReceipt(ctx, job.UserID, job.Images)
	if err != nil {
		if userMsg, final := userFacing(err); final {
			r.send(job.ChatID, userMsg)
			return nil
		}
		if job.Attempts >= 3 {
			r.send(job.ChatID, "I couldn't process that receipt right now. Please try again later.")
		}
		return err
	}
	r.send(job.ChatID, FormatIngestResult(res))
	return nil
}

func (r *Router) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := r.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	url := file.Link(r.bot.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
