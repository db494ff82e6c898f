package logger

import (
	"fmt"
	"log"
	"time"

	"evhub/internal"
)

type Importance string

const (
	Info    Importance = " "
	Warning Importance = "?"
	Error   Importance = "!"
	Raw     Importance = "-"
)

// Logger fans every event out to the process log, the optional message
// service and the optional store. Writes happen on a single background
// goroutine so callers never block on storage.
type Logger struct {
	store          internal.SessionStore
	messageService internal.MessageService
	location       *time.Location
	debugMode      bool
	writer         chan *logEvent
}

type logEvent struct {
	importance Importance
	message    *FeatureLogMessage
}

func NewLogger(location *time.Location) *Logger {
	logger := &Logger{
		debugMode: false,
		location:  location,
		writer:    make(chan *logEvent, 100),
	}
	go logger.startWriter()
	return logger
}

func (l *Logger) startWriter() {
	for {
		event := <-l.writer

		message := event.message
		messageText := fmt.Sprintf("[%s] %s: %s", message.ChargerId, message.Feature, message.Text)
		l.logLine(event.importance, messageText)

		if l.messageService != nil && event.importance != Raw {
			if err := l.messageService.Send(message); err != nil {
				l.logLine(Error, fmt.Sprintln("sending log message failed:", err))
			}
		}
		if l.store != nil && event.importance != Raw {
			if err := l.store.WriteLogMessage(message); err != nil {
				l.logLine(Error, fmt.Sprintln("write log to store failed:", err))
			}
		}
	}
}

func (l *Logger) SetDebugMode(debugMode bool) {
	l.debugMode = debugMode
}

func (l *Logger) SetStore(store internal.SessionStore) {
	l.store = store
}

func (l *Logger) SetMessageService(messageService internal.MessageService) {
	l.messageService = messageService
}

func logTime(t time.Time) string {
	timeString := fmt.Sprintf("%d-%02d-%02d %02d:%02d:%02d", t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second())
	return timeString
}

func (l *Logger) FeatureEvent(feature, id, text string) {
	l.logEvent(Info, l.newFeatureLogMessage(feature, id, text))
}

func (l *Logger) logEvent(importance Importance, message *FeatureLogMessage) {
	if message.ChargerId == "" {
		message.ChargerId = "*"
	}
	message.Importance = string(importance)
	event := &logEvent{
		importance: importance,
		message:    message,
	}
	l.writer <- event
}

func (l *Logger) Debug(text string) {
	if !l.debugMode {
		return
	}
	l.logEvent(Info, l.newFeatureLogMessage("info", "", text))
}

func (l *Logger) Warn(text string) {
	l.logEvent(Warning, l.newFeatureLogMessage("warning", "", text))
}

func (l *Logger) Error(text string, err error) {
	l.logEvent(Error, l.newFeatureLogMessage("error", "", fmt.Sprintf("%s: %s", text, err)))
}

func (l *Logger) RawDataEvent(direction, data string) {
	if l.debugMode {
		l.logEvent(Raw, l.newFeatureLogMessage("raw", "", fmt.Sprintf("%s: %s", direction, data)))
	}
}

func (l *Logger) logLine(importance Importance, text string) {
	if importance == Info && l.store != nil {
		return
	}
	log.Printf("%s %s", importance, text)
}

func (l *Logger) newFeatureLogMessage(feature, id, text string) *FeatureLogMessage {
	return &FeatureLogMessage{
		Time:      logTime(time.Now().In(l.location)),
		TimeStamp: time.Now().UTC(),
		Text:      text,
		Feature:   feature,
		ChargerId: id,
	}
}
