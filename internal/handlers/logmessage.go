package handlers

import (
	"context"
	"strings"

	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
)

// Message is the argument of log.message.
type Message struct {
	Text  string `json:"text"`
	Level string `json:"level,omitempty"` // trace, debug, info (default), warn, error
}

var levels = map[string]func(logx.Logger) func(string, ...logx.Field){
	"trace": func(l logx.Logger) func(string, ...logx.Field) { return l.Trace },
	"debug": func(l logx.Logger) func(string, ...logx.Field) { return l.Debug },
	"":      func(l logx.Logger) func(string, ...logx.Field) { return l.Info },
	"info":  func(l logx.Logger) func(string, ...logx.Field) { return l.Info },
	"warn":  func(l logx.Logger) func(string, ...logx.Field) { return l.Warn },
	"error": func(l logx.Logger) func(string, ...logx.Field) { return l.Error },
}

func (m *Message) UnmarshalJSON(b []byte) error {
	type plain Message
	var p plain
	if err := strictUnmarshal(b, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.Text) == "" {
		return errors.New("text is required")
	}
	p.Level = strings.ToLower(strings.TrimSpace(p.Level))
	if _, ok := levels[p.Level]; !ok {
		return errors.Newf("unknown level %q", p.Level)
	}
	*m = Message(p)
	return nil
}

type logMessage struct {
	log logx.Logger
}

func (h *logMessage) run(ctx context.Context, m Message) error {
	emit, ok := levels[m.Level]
	if !ok || m.Text == "" {
		return errors.Newf("invalid message %+v", m)
	}
	emit(h.log)(m.Text)
	return nil
}
