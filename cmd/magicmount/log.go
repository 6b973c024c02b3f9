package main

import (
	"bytes"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// bufferedLogger implements overlay.Logger on top of logrus. Per §9 ("the
// log sink must buffer messages before the log file is known and flush on
// first setFile"), it starts by writing into an in-memory buffer; the first
// call to SetOutput flushes that buffer to the real destination and
// redirects subsequent writes there directly.
type bufferedLogger struct {
	logger *logrus.Logger
	buf    *bytes.Buffer
}

func newBufferedLogger() *bufferedLogger {
	buf := &bytes.Buffer{}

	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(buf)

	return &bufferedLogger{logger: l, buf: buf}
}

func (b *bufferedLogger) SetLevel(debug bool) {
	if debug {
		b.logger.SetLevel(logrus.DebugLevel)

		return
	}

	b.logger.SetLevel(logrus.InfoLevel)
}

// SetOutput flushes whatever was buffered before the real destination was
// known, then redirects the underlying logrus logger to w.
func (b *bufferedLogger) SetOutput(w io.Writer) {
	var buffered []byte
	if b.buf != nil {
		buffered = b.buf.Bytes()
	}

	b.logger.SetOutput(w)

	if len(buffered) > 0 {
		_, _ = w.Write(buffered)
	}

	b.buf = nil
}

func (b *bufferedLogger) Debugf(format string, args ...any) { b.logger.Debugf(format, args...) }
func (b *bufferedLogger) Infof(format string, args ...any)  { b.logger.Infof(format, args...) }
func (b *bufferedLogger) Warnf(format string, args ...any)  { b.logger.Warnf(format, args...) }
func (b *bufferedLogger) Errorf(format string, args ...any) { b.logger.Errorf(format, args...) }

// resolveLogOutput opens logFile for append, treating "" and "-" as stdout
// per §6's `log_file` key.
func resolveLogOutput(logFile string) (io.Writer, func() error, error) {
	if logFile == "" || logFile == "-" {
		return os.Stdout, func() error { return nil }, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}

	return f, f.Close, nil
}
