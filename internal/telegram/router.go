// Package telegram is the bot surface: it routes commands, batches
// multi-photo receipts, and replies with pipeline results.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"receipt-bot/internal/async"
	"receipt-bot/internal/export"
	"receipt-bot/internal/repository"
	"receipt-bot/internal/service"
)

type Config struct {
	PhotoDebounce  time.Duration // wait for more photos of the same receipt
	SeenCacheLimit int           // bound for the duplicate-update set
	MaxReplyLen    int
}

type Router struct {
	bot    *tgbotapi.BotAPI
	cfg    Config
	ingest *service.Ingest
	query  *service.QueryService
	export *export.Service
	repo   repository.ReceiptRepository
	queue  *async.Queue
	logger *slog.Logger

	seen    *seenSet
	batches sync.Map // batch key -> *photoBatch
}

func NewRouter(
	bot *tgbotapi.BotAPI,
	cfg Config,
	ingest *service.Ingest,
	query *service.QueryService,
	exporter *export.Service,
	repo repository.ReceiptRepository,
	logger *slog.Logger,
) *Router {
	if cfg.PhotoDebounce <= 0 {
		cfg.PhotoDebounce = 2 * time.Second
	}
	if cfg.SeenCacheLimit <= 0 {
		cfg.SeenCacheLimit = 4096
	}
	if cfg.MaxReplyLen <= 0 {
		cfg.MaxReplyLen = 4000
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		bot:    bot,
		cfg:    cfg,
		ingest: ingest,
		query:  query,
		export: exporter,
		repo:   repo,
		logger: logger,
		seen:   newSeenSet(cfg.SeenCacheLimit),
	}
	r.queue = async.NewQueue(r.handleIngestJob, logger)
	return r
}

// Run consumes long-poll updates until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := r.bot.GetUpdatesChan(u)

	r.logger.Info("telegram.run", "bot", r.bot.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			r.bot.StopReceivingUpdates()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			r.queue.Shutdown(shutdownCtx)
			cancel()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			r.HandleUpdate(ctx, upd)
		}
	}
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil {
		return
	}
	// Redelivered updates (restart, webhook retry) are suppressed by a
	// bounded approximate set.
	if !r.seen.Add(fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageID)) {
		r.logger.Debug("telegram.update.duplicate", "chat_id", msg.Chat.ID, "message_id", msg.MessageID)
		return
	}

	switch {
	case msg.IsCommand():
		r.handleCommand(ctx, msg)
	case len(msg.Photo) > 0:
		r.acceptPhoto(ctx, msg)
	case strings.TrimSpace(msg.Text) != "":
		r.handleQuestion(ctx, msg)
	}
}

func (r *Router) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start", "help":
		r.send(chatID, "Send me a photo of a receipt and I'll store it.\n"+
			"Long receipt? Send several overlapping photos as an album.\n"+
			"Then ask me things like \"how much did I spend on food this month?\".\n\n"+
			"Commands:\n/count — number of stored receipts\n"+
			"/delete_last — remove the most recent receipt\n"+
			"/delete <id> — remove one receipt by its id\n"+
			"/delete_all — remove everything\n"+
			"/export — download your receipts as a spreadsheet")

	case "count":
		n, err := r.repo.CountUserReceipts(ctx, userID)
		if err != nil {
			r.sendError(chatID, err)
			return
		}
		r.send(chatID, fmt.Sprintf("You have %d stored receipts.", n))

	case "delete_last":
		rec, err := r.repo.DeleteLastUploadedReceipt(ctx, userID)
		if err != nil {
			r.sendError(chatID, err)
			return
		}
		if rec == nil {
			r.send(chatID, "No receipt found to delete.")
			return
		}
		r.send(chatID, fmt.Sprintf("Deleted the receipt from %s (₪%s).", rec.StoreName, rec.Total.StringFixed(2)))

	case "delete":
		id, err := uuid.Parse(strings.TrimSpace(msg.CommandArguments()))
		if err != nil {
			r.send(chatID, "Usage: /delete <receipt id>")
			return
		}
		ok, err := r.repo.DeleteReceipt(ctx, userID, id)
		if err != nil {
			r.sendError(chatID, err)
			return
		}
		if !ok {
			r.send(chatID, "No receipt found with that id.")
			return
		}
		r.send(chatID, "Receipt deleted.")

	case "delete_all":
		n, err := r.repo.DeleteAllReceipts(ctx, userID)
		if err != nil {
			r.sendError(chatID, err)
			return
		}
		r.send(chatID, fmt.Sprintf("Deleted %d receipts.", n))

	case "export":
		data, err := r.export.ExportXLSX(ctx, userID, nil, nil)
		if err != nil {
			r.sendError(chatID, err)
			return
		}
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
			Name:  "receipts.xlsx",
			Bytes: data,
		})
		if _, err := r.bot.Send(doc); err != nil {
			r.logger.Error("telegram.send_document.failed", "chat_id", chatID, "error", err)
		}

	default:
		r.send(chatID, "Unknown command. Try /help.")
	}
}

func (r *Router) handleQuestion(ctx context.Context, msg *tgbotapi.Message) {
	answer, err := r.query.Answer(ctx, msg.From.ID, msg.Text)
	if err != nil {
		r.logger.Warn("telegram.question.failed", "user_id", msg.From.ID, "error", err)
		r.send(msg.Chat.ID, "I couldn't answer that. Try rephrasing, e.g. \"how much did I spend last week?\".")
		return
	}
	r.send(msg.Chat.ID, answer)
}

func (r *Router) send(chatID int64, text string) {
	out := tgbotapi.NewMessage(chatID, TruncateReply(text, r.cfg.MaxReplyLen))
	if _, err := r.bot.Send(out); err != nil {
		r.logger.Error("telegram.send.failed", "chat_id", chatID, "error", err)
	}
}

func (r *Router) sendError(chatID int64, err error) {
	r.logger.Error("telegram.command.failed", "chat_id", chatID, "error", err)
	r.send(chatID, "Something went wrong, please try again.")
}

// seenSet is a bounded, approximate duplicate guard: when the cap is
// hit the whole set resets rather than evicting precisely.
type seenSet struct {
	mu    sync.Mutex
	limit int
	ids   map[string]struct{}
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{limit: limit, ids: make(map[string]struct{})}
}

// Add reports whether the id was new.
func (s *seenSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.ids) >= s.limit {
		s.ids = make(map[string]struct{})
	}
	s.ids[id] = struct{}{}
	return true
}
