// Package audit records operations in the wpmeta_logs table and mirrors
// every entry through zerolog. Logging never fails the caller: when the
// table cannot be written the entry still reaches the process log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wpmeta/wpmeta/actor"
	"github.com/wpmeta/wpmeta/db"
	"github.com/wpmeta/wpmeta/telemetry"
)

// Level of a log entry
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const (
	DefaultRecentLimit = 100
	MaxRecentLimit     = 500
)

// Entry is one operation log row
type Entry struct {
	ID        uint64                 `json:"id" db:"id"`
	Level     Level                  `json:"level" db:"level"`
	Action    string                 `json:"action" db:"action"`
	Message   string                 `json:"message" db:"message"`
	Context   map[string]interface{} `json:"context" db:"-"`
	RawCtx    string                 `json:"-" db:"context"`
	UserID    uint64                 `json:"user_id" db:"user_id"`
	IP        string                 `json:"ip" db:"ip"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// Logger writes operation log entries
type Logger struct {
	db     *db.Store
	mirror zerolog.Logger
	now    func() time.Time
}

// New creates a logger. mirror receives a copy of every entry.
func New(store *db.Store, mirror zerolog.Logger) *Logger {
	return &Logger{db: store, mirror: mirror, now: time.Now}
}

// Info logs at info level
func (l *Logger) Info(ctx context.Context, action, message string, fields map[string]interface{}) {
	l.Log(ctx, LevelInfo, action, message, fields)
}

// Warning logs at warning level
func (l *Logger) Warning(ctx context.Context, action, message string, fields map[string]interface{}) {
	l.Log(ctx, LevelWarning, action, message, fields)
}

// Error logs at error level
func (l *Logger) Error(ctx context.Context, action, message string, fields map[string]interface{}) {
	l.Log(ctx, LevelError, action, message, fields)
}

// Log stores an entry attributed to the actor in ctx
func (l *Logger) Log(ctx context.Context, level Level, action, message string, fields map[string]interface{}) {
	a := actor.FromContext(ctx)
	if fields == nil {
		fields = map[string]interface{}{}
	}

	l.emit(level, action, message, fields, a)

	raw, err := json.Marshal(fields)
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"encode_error":%q}`, err.Error()))
	}

	_, err = l.db.Q().Insert(l.db.Table(db.TableLogs)).
		Rows(goqu.Record{
			"level":      string(level),
			"action":     action,
			"message":    message,
			"context":    string(raw),
			"user_id":    a.ID,
			"ip":         a.IP,
			"created_at": l.now().UTC().Truncate(time.Microsecond),
		}).
		Executor().ExecContext(ctx)
	if err != nil {
		telemetry.AuditWriteFailuresTotal.Inc()
		log.Error().Err(err).Str("action", action).Msg("Failed to store operation log entry")
	}
}

func (l *Logger) emit(level Level, action, message string, fields map[string]interface{}, a actor.Actor) {
	var ev *zerolog.Event
	switch level {
	case LevelError:
		ev = l.mirror.Error()
	case LevelWarning:
		ev = l.mirror.Warn()
	default:
		ev = l.mirror.Info()
	}

	ev.Str("action", action).
		Uint64("user_id", a.ID).
		Str("user", a.Name).
		Str("ip", a.IP).
		Fields(fields).
		Msg(message)
}

// Recent returns the newest entries, optionally filtered by level
func (l *Logger) Recent(ctx context.Context, limit int, level Level) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	q := l.db.Q().From(l.db.Table(db.TableLogs)).
		Select("id", "level", "action", "message", "context", "user_id", "ip", "created_at").
		Order(goqu.C("created_at").Desc(), goqu.C("id").Desc()).
		Limit(uint(limit))
	if level != "" {
		q = q.Where(goqu.Ex{"level": string(level)})
	}

	entries := []Entry{}
	if err := q.ScanStructsContext(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to read operation log: %w", err)
	}

	for i := range entries {
		entries[i].Context = map[string]interface{}{}
		if entries[i].RawCtx != "" {
			if err := json.Unmarshal([]byte(entries[i].RawCtx), &entries[i].Context); err != nil {
				entries[i].Context = map[string]interface{}{"raw": entries[i].RawCtx}
			}
		}
	}
	return entries, nil
}

// Cleanup deletes entries created before olderThan
func (l *Logger) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := l.db.Q().Delete(l.db.Table(db.TableLogs)).
		Where(goqu.C("created_at").Lt(olderThan.UTC())).
		Executor().ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up operation log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
