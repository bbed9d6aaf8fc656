package logging

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bartossh/ledgerdriver/logger"
)

// Helper helps with writing logs to io.Writers.
// Helper implements logger.Logger interface.
// Writing is done concurrently with out blocking the current thread.
type Helper struct {
	callOnErr   func(error)
	callOnFatal func(error)
	source      string
	writers     []io.Writer
}

// New creates new Helper.
func New(callOnErr, callOnFatal func(error), writers ...io.Writer) Helper {
	return Helper{callOnErr: callOnErr, callOnFatal: callOnFatal, writers: writers}
}

// WithSource returns a copy of the Helper marking every log with the source name.
func (h Helper) WithSource(source string) Helper {
	h.source = source
	return h
}

// Debug writes debug log.
func (h Helper) Debug(msg string) {
	h.write(h.log("debug", msg))
}

// Info writes info log.
func (h Helper) Info(msg string) {
	h.write(h.log("info", msg))
}

// Warn writes warning log.
func (h Helper) Warn(msg string) {
	h.write(h.log("warn", msg))
}

// Error writes error log.
func (h Helper) Error(msg string) {
	h.write(h.log("error", msg))
}

// Fatal writes fatal log and calls the fatal callback once written.
func (h Helper) Fatal(msg string) {
	l := h.log("fatal", msg)
	raw, err := json.Marshal(l)
	if err != nil {
		h.onErr(err)
	}
	for _, w := range h.writers {
		if _, err := w.Write(raw); err != nil {
			h.onErr(err)
		}
	}
	if h.callOnFatal != nil {
		h.callOnFatal(errors.New(msg))
	}
}

func (h Helper) log(level, msg string) *logger.Log {
	return &logger.Log{
		ID:        primitive.NewObjectID(),
		CreatedAt: time.Now(),
		Source:    h.source,
		Level:     level,
		Msg:       msg,
	}
}

func (h Helper) write(l *logger.Log) {
	go func() {
		raw, err := json.Marshal(l)
		if err != nil {
			h.onErr(err)
			return
		}
		for _, w := range h.writers {
			if _, err := w.Write(raw); err != nil {
				h.onErr(err)
			}
		}
	}()
}

func (h Helper) onErr(err error) {
	if h.callOnErr != nil {
		h.callOnErr(err)
	}
}
