package agent

import (
	"container/list"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/ashureev/dex/internal/config"
	"github.com/ashureev/dex/internal/correction"
	"github.com/ashureev/dex/internal/identity"
)

// ConversationLogConfig controls the NDJSON transcript writer.
type ConversationLogConfig = config.ConversationLogConfig

// ConversationLogEvent is one line of a session transcript.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	SessionID  string         `json:"session_id"`
	Role       string         `json:"role"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records conversation events.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

var (
	ansiPattern    = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	controlPattern = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f]`)
)

// cleanForReadability strips terminal escapes, control characters and
// correction markup so transcripts read like the chat the learner saw.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = controlPattern.ReplaceAllString(s, "")
	return correction.Clean(s)
}

type fileConversationLogger struct {
	dir    string
	global *os.File
	logger *slog.Logger

	queue chan ConversationLogEvent
	wg    sync.WaitGroup

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool

	// files holds at most maxOpen session logs, most recently written first.
	filesMu sync.Mutex
	maxOpen int
	files   map[string]*list.Element
	lru     *list.List
}

type openSessionLog struct {
	name string
	f    *os.File
}

// NewConversationLogger returns an asynchronous per-session NDJSON writer.
// Events are dropped, with a warning, when the queue is full.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("conversation log dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	maxOpen := cfg.MaxOpenFiles
	if maxOpen <= 0 {
		maxOpen = 64
	}

	l := &fileConversationLogger{
		dir:     cfg.Dir,
		logger:  logger,
		queue:   make(chan ConversationLogEvent, queueSize),
		maxOpen: maxOpen,
		files:   make(map[string]*list.Element),
		lru:     list.New(),
	}

	if cfg.GlobalEnabled && cfg.GlobalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o750); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	select {
	case l.queue <- event:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"session_id", event.SessionID,
			"event_type", event.EventType,
		)
	}
}

func (l *fileConversationLogger) run() {
	defer l.wg.Done()
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("Failed to write conversation log", "session_id", event.SessionID, "error", err)
		}
	}
}

func (l *fileConversationLogger) write(event ConversationLogEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	l.filesMu.Lock()
	f, err := l.sessionFile(event.SessionID)
	if err == nil {
		_, err = f.Write(line)
		if err != nil {
			err = fmt.Errorf("write session log: %w", err)
		}
	}
	l.filesMu.Unlock()
	if err != nil {
		return err
	}

	if l.global != nil {
		if _, err := l.global.Write(line); err != nil {
			return fmt.Errorf("write global log: %w", err)
		}
	}
	return nil
}

// sessionFile returns the open log for sessionID, closing the least recently
// written one when maxOpen files are already held. Callers hold filesMu.
func (l *fileConversationLogger) sessionFile(sessionID string) (*os.File, error) {
	name := sessionLogName(sessionID)
	if e, ok := l.files[name]; ok {
		l.lru.MoveToFront(e)
		return e.Value.(*openSessionLog).f, nil
	}

	for l.lru.Len() >= l.maxOpen {
		l.evictOldest()
	}

	path := filepath.Join(l.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	l.files[name] = l.lru.PushFront(&openSessionLog{name: name, f: f})
	return f, nil
}

func (l *fileConversationLogger) evictOldest() {
	e := l.lru.Back()
	if e == nil {
		return
	}
	entry := l.lru.Remove(e).(*openSessionLog)
	delete(l.files, entry.name)
	if err := entry.f.Close(); err != nil {
		l.logger.Warn("Failed to close session log", "file", entry.name, "error", err)
	}
}

func (l *fileConversationLogger) openFiles() int {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()
	return l.lru.Len()
}

// Close drains queued events and closes every open file.
func (l *fileConversationLogger) Close() error {
	var errs []error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()

		l.wg.Wait()

		l.filesMu.Lock()
		for e := l.lru.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*openSessionLog)
			if err := entry.f.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", entry.name, err))
			}
		}
		l.files = make(map[string]*list.Element)
		l.lru.Init()
		l.filesMu.Unlock()
		if l.global != nil {
			if err := l.global.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close global log: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}

// sessionLogName maps a session id onto a file name that cannot escape dir.
func sessionLogName(sessionID string) string {
	name := identity.SanitizeSessionID(sessionID)
	if name == "" {
		name = "unknown"
	}
	return name + ".ndjson"
}
