package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/schoolbot/backend/internal/contextstore"
	"github.com/schoolbot/backend/internal/delivery"
	"github.com/schoolbot/backend/internal/guard"
	"github.com/schoolbot/backend/internal/knowledge"
	"github.com/schoolbot/backend/internal/llm"
	"github.com/schoolbot/backend/internal/metrics"
	"github.com/schoolbot/backend/pkg/logger"
)

const (
	rateLimitNotice  = "Превышен лимит запросов. Попробуйте позже."
	contextSeparator = "\n\n---\n\n"
)

// Generator produces the final reply from prompt, context and history.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (string, error)
}

// Retriever finds knowledge chunks relevant to a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]knowledge.SearchResult, error)
}

// Recorder tracks distinct questions for analytics.
type Recorder interface {
	Record(ctx context.Context, question, source string) (bool, error)
}

// ReplyCache caches generated replies for history-less conversations.
type ReplyCache interface {
	GetReply(ctx context.Context, question string) (string, bool)
	SetReply(ctx context.Context, question, reply string)
}

type Config struct {
	SystemPrompt   string
	SupportChatURL string
	TopK           int
}

// Composer runs the full conversation pipeline for each inbound message:
// rate limit, spam filter, analytics, retrieval, generation, context update,
// delivery. Messages from the same user are processed one at a time; other
// users are unaffected.
type Composer struct {
	cfg         Config
	rateLimiter *guard.RateLimiter
	spamFilter  *guard.SpamFilter
	contexts    *contextstore.Store
	retriever   Retriever
	recorder    Recorder
	generator   Generator
	senders     *delivery.Registry
	cache       ReplyCache // optional

	lockMu    sync.Mutex
	userLocks map[string]*sync.Mutex

	// Side-effect tasks (analytics recording) run on a single background
	// worker so a slow or failing side channel never delays a reply.
	tasks    chan func()
	sideWG   sync.WaitGroup
	stopOnce sync.Once
}

func NewComposer(
	cfg Config,
	rateLimiter *guard.RateLimiter,
	spamFilter *guard.SpamFilter,
	contexts *contextstore.Store,
	retriever Retriever,
	recorder Recorder,
	generator Generator,
	senders *delivery.Registry,
	cache ReplyCache,
) *Composer {
	c := &Composer{
		cfg:         cfg,
		rateLimiter: rateLimiter,
		spamFilter:  spamFilter,
		contexts:    contexts,
		retriever:   retriever,
		recorder:    recorder,
		generator:   generator,
		senders:     senders,
		cache:       cache,
		userLocks:   make(map[string]*sync.Mutex),
		tasks:       make(chan func(), 256),
	}
	go c.runSideTasks()
	return c
}

// Stop shuts down the side-task worker after draining queued work.
func (c *Composer) Stop() {
	c.stopOnce.Do(func() { close(c.tasks) })
	c.sideWG.Wait()
}

// Submit processes one inbound message end to end. userID is the
// channel-level id; internal state is keyed by channel plus id so the same
// numeric id on two channels never shares a session. Every failure mode is
// absorbed here: the worst outcome for the user is a fixed notice or
// silence, never a crash or a hung conversation.
func (c *Composer) Submit(ctx context.Context, channel delivery.Channel, userID, text string) {
	msgID := uuid.New().String()
	stateKey := stateKey(channel, userID)
	log := logger.GetLogger().With(
		zap.String("message_id", msgID),
		zap.String("user_id", stateKey),
		zap.String("channel", string(channel)),
	)

	lock := c.userLock(stateKey)
	lock.Lock()
	defer lock.Unlock()

	if !c.rateLimiter.Check(stateKey) {
		metrics.MessagesTotal.WithLabelValues(string(channel), "rate_limited").Inc()
		c.deliver(ctx, channel, userID, rateLimitNotice, log)
		return
	}
	c.rateLimiter.Record(stateKey)

	if c.spamFilter.IsSpam(stateKey, text) {
		metrics.MessagesTotal.WithLabelValues(string(channel), "spam").Inc()
		log.Info("Message dropped as spam")
		return
	}

	c.recordQuestion(text, string(channel), log)

	history := c.contexts.Get(stateKey)

	if c.cache != nil && len(history) == 0 {
		if reply, ok := c.cache.GetReply(ctx, text); ok {
			metrics.MessagesTotal.WithLabelValues(string(channel), "cache_hit").Inc()
			c.contexts.Append(stateKey, contextstore.RoleUser, text)
			c.contexts.Append(stateKey, contextstore.RoleAssistant, reply)
			c.deliver(ctx, channel, userID, reply, log)
			return
		}
	}

	ragContext := c.retrieveContext(ctx, text, log)

	start := time.Now()
	reply, err := c.generator.Generate(ctx, llm.GenerateRequest{
		SystemPrompt: c.cfg.SystemPrompt,
		Context:      ragContext,
		History:      history,
		Question:     text,
	})
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.MessagesTotal.WithLabelValues(string(channel), "generation_failed").Inc()
		log.Error("Generation failed", zap.Error(err))
		// The user's turn is deliberately not appended: a failed exchange
		// should not occupy a slot in the bounded history.
		c.deliver(ctx, channel, userID, c.apology(), log)
		return
	}

	c.contexts.Append(stateKey, contextstore.RoleUser, text)
	c.contexts.Append(stateKey, contextstore.RoleAssistant, reply)

	if c.cache != nil && len(history) == 0 {
		c.cache.SetReply(ctx, text, reply)
	}

	metrics.MessagesTotal.WithLabelValues(string(channel), "ok").Inc()
	c.deliver(ctx, channel, userID, reply, log)
}

// ClearHistory drops the user's conversation context.
func (c *Composer) ClearHistory(channel delivery.Channel, userID string) {
	c.contexts.Clear(stateKey(channel, userID))
}

// Blacklist blocks a user on one channel. The spam filter is keyed the same
// way as the rest of the per-user state, so the key is composed here rather
// than by the caller.
func (c *Composer) Blacklist(channel delivery.Channel, userID string) {
	c.spamFilter.AddToBlacklist(stateKey(channel, userID))
}

func stateKey(channel delivery.Channel, userID string) string {
	return string(channel) + "_" + userID
}

func (c *Composer) retrieveContext(ctx context.Context, query string, log *zap.Logger) string {
	results, err := c.retriever.Search(ctx, query, c.cfg.TopK)
	if err != nil {
		// Retrieval trouble degrades to an unassisted answer, not a failure.
		log.Warn("Knowledge retrieval failed, continuing without context", zap.Error(err))
		return ""
	}
	metrics.RetrievalResults.Observe(float64(len(results)))

	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, contextSeparator)
}

func (c *Composer) recordQuestion(text, source string, log *zap.Logger) {
	c.sideWG.Add(1)
	task := func() {
		defer c.sideWG.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("Question recording panicked", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		isNew, err := c.recorder.Record(ctx, text, source)
		if err != nil {
			log.Warn("Question recording failed", zap.Error(err))
			return
		}
		if isNew {
			metrics.UniqueQuestions.WithLabelValues("new").Inc()
		} else {
			metrics.UniqueQuestions.WithLabelValues("duplicate").Inc()
		}
	}

	select {
	case c.tasks <- task:
	default:
		c.sideWG.Done()
		log.Warn("Side-task queue full, question not recorded")
	}
}

func (c *Composer) runSideTasks() {
	for task := range c.tasks {
		task()
	}
}

func (c *Composer) deliver(ctx context.Context, channel delivery.Channel, userID, text string, log *zap.Logger) {
	if err := c.senders.Send(ctx, channel, userID, text); err != nil {
		metrics.DeliveryFailures.WithLabelValues(string(channel)).Inc()
		log.Error("Delivery failed", zap.Error(err))
	}
}

func (c *Composer) apology() string {
	return fmt.Sprintf(
		"Извините, произошла ошибка при генерации ответа. Пожалуйста, попробуйте позже или обратитесь в хелп-чат: %s",
		c.cfg.SupportChatURL,
	)
}

func (c *Composer) userLock(userID string) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()

	lock, ok := c.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		c.userLocks[userID] = lock
	}
	return lock
}
