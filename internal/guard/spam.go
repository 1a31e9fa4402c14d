package guard

import (
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/schoolbot/backend/pkg/logger"
)

const (
	minMessageLen = 3
	maxMessageLen = 2000
	repeatWindow  = 3
)

// SpamFilter rejects blacklisted users, out-of-bounds message lengths, and
// three identical messages in a row from the same user.
type SpamFilter struct {
	mu           sync.Mutex
	lastMessages map[string][]string
	blacklist    map[string]struct{}
}

func NewSpamFilter() *SpamFilter {
	return &SpamFilter{
		lastMessages: make(map[string][]string),
		blacklist:    make(map[string]struct{}),
	}
}

// IsSpam reports whether the message should be dropped. The per-user ring
// buffer is updated on every call, including calls rejected for blacklist or
// length, so repetition tracking never skips a message.
func (sf *SpamFilter) IsSpam(userID, text string) bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	sf.push(userID, text)

	if _, blocked := sf.blacklist[userID]; blocked {
		logger.Debug("Message from blacklisted user dropped", zap.String("user_id", userID))
		return true
	}

	length := utf8.RuneCountInString(text)
	if length < minMessageLen || length > maxMessageLen {
		return true
	}

	recent := sf.lastMessages[userID]
	if len(recent) == repeatWindow && recent[0] == recent[1] && recent[1] == recent[2] {
		logger.Warn("Repeated identical messages flagged as spam", zap.String("user_id", userID))
		return true
	}

	return false
}

// AddToBlacklist permanently blocks a user. The filter never calls this on
// its own; blocking is an operator decision surfaced through the admin API.
func (sf *SpamFilter) AddToBlacklist(userID string) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.blacklist[userID] = struct{}{}
	logger.Info("User blacklisted", zap.String("user_id", userID))
}

func (sf *SpamFilter) push(userID, text string) {
	recent := append(sf.lastMessages[userID], text)
	if len(recent) > repeatWindow {
		recent = recent[1:]
	}
	sf.lastMessages[userID] = recent
}
