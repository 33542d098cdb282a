package alert

import (
	"context"
	"strings"

	"exchange-core/internal/logger"
)

// LogNotifier writes alerts to the log. It is the notifier used when no
// chat destination is configured.
type LogNotifier struct {
	log *logger.Entry
}

func NewLogNotifier(log *logger.Log) *LogNotifier {
	return &LogNotifier{log: logger.OrNop(log).WithComponent("alert")}
}

func (n *LogNotifier) Notify(_ context.Context, msg string) error {
	n.log.WithEvent("alert").WithField("alert", strings.ReplaceAll(msg, "\n", "; ")).Warn("alert raised")
	return nil
}
