package editor

import (
	"satunaskah/pkg/logger"
)

type Level int

const (
	LevelInfo Level = iota
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "info"
}

// Notice is a transient, human readable message for the user (a toast).
type Notice struct {
	Level   Level
	Message string
	Kind    Kind
	Err     error
}

type Notifier interface {
	Notify(n Notice)
}

type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier writes notices to the global logger.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notice) {
	if n.Level == LevelError {
		logger.Sugar.Errorw(n.Message, "kind", n.Kind.String(), "error", n.Err)
		return
	}
	logger.Sugar.Info(n.Message)
}

func errorNotice(message string, err error) Notice {
	kind := Classify(err)
	switch kind {
	case KindPermissionDenied:
		message += ": you do not have access to this document"
	case KindTransientIO:
		message += ": check your connection and try again"
	}
	return Notice{Level: LevelError, Message: message, Kind: kind, Err: err}
}
