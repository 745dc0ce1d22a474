package logx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
)

// journalWriter forwards zerolog JSON entries to journald. The message becomes
// MESSAGE and every other key an upper-cased journal field (comp -> COMP).
type journalWriter struct {
	send func(msg string, pri journal.Priority, vars map[string]string) error
}

func newJournalWriter() *journalWriter {
	return &journalWriter{send: journal.Send}
}

func (w *journalWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

func (w *journalWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	var entry map[string]any
	if err := json.Unmarshal(p, &entry); err != nil {
		return 0, err
	}
	msg, _ := entry[zerolog.MessageFieldName].(string)
	vars := make(map[string]string, len(entry))
	for k, v := range entry {
		switch k {
		case zerolog.MessageFieldName, zerolog.LevelFieldName, zerolog.TimestampFieldName:
			continue
		}
		key := journalKey(k)
		if key == "" {
			continue
		}
		if s, ok := v.(string); ok {
			vars[key] = s
		} else {
			vars[key] = fmt.Sprint(v)
		}
	}
	if err := w.send(msg, journalPriority(level), vars); err != nil {
		return 0, err
	}
	return len(p), nil
}

func journalPriority(level zerolog.Level) journal.Priority {
	switch level {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return journal.PriDebug
	case zerolog.WarnLevel:
		return journal.PriWarning
	case zerolog.ErrorLevel:
		return journal.PriErr
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return journal.PriCrit
	default:
		return journal.PriInfo
	}
}

// journalKey maps k onto [A-Z0-9_], dropping a leading underscore since
// journald reserves those for trusted fields.
func journalKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), "_")
}
