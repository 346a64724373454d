package log_helper

import (
	"bytes"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// RedactedValue replaces the value of every field listed in SecretFields
const RedactedValue = "******"

// SecretFields are never written in clear text by CustomWriter
var SecretFields = map[string]bool{
	"secretKey":      true,
	"secret_key":     true,
	"DS3_SECRET_KEY": true,
	"password":       true,
}

var levelAbbreviations = map[string]string{
	"trace": "TRC",
	"debug": "DBG",
	"info":  "INF",
	"warn":  "WRN",
	"error": "ERR",
	"fatal": "FTL",
	"panic": "PNC",
}

var systemFields = map[string]bool{
	"time": true, "level": true, "caller": true, "message": true,
	"error": true, "stack": true,
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// moduleRoot is the prefix of every source path of this module: the checkout directory,
// or the module path when built with -trimpath
var moduleRoot = func() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok || !strings.HasSuffix(file, "pkg/log_helper/log_helper.go") {
		return ""
	}
	return strings.TrimSuffix(file, "pkg/log_helper/log_helper.go")
}()

func trimModuleRoot(file string) string {
	if moduleRoot == "" {
		return file
	}
	return strings.TrimPrefix(file, moduleRoot)
}

// CustomStackMarshaler renders github.com/pkg/errors stack traces one frame per two lines,
// paths inside the module are relative to its root, runtime frames are dropped
func CustomStackMarshaler(err error) interface{} {
	tracer, ok := err.(stackTracer)
	if !ok {
		return nil
	}
	lines := make([]string, 0)
	for _, frame := range tracer.StackTrace() {
		// %+v gives "function\n\tfile:line"
		function, location, found := strings.Cut(fmt.Sprintf("%+v", frame), "\n\t")
		if !found || strings.HasPrefix(function, "runtime.") {
			continue
		}
		lines = append(lines, function+"()", "\t"+trimModuleRoot(location))
	}
	if len(lines) == 0 {
		return nil
	}
	return "\n" + strings.Join(lines, "\n") + "\n\n"
}

// CustomWriter turns zerolog JSON events into one human-readable line, masking secrets
type CustomWriter struct {
	out io.Writer
	buf bytes.Buffer
}

func NewCustomWriter(out io.Writer) *CustomWriter {
	return &CustomWriter{out: out}
}

func (w *CustomWriter) Write(p []byte) (int, error) {
	w.buf.Reset()

	if ts, err := jsonparser.GetString(p, "time"); err == nil {
		w.buf.WriteString(ts)
		w.buf.WriteByte(' ')
	}
	if level, err := jsonparser.GetString(p, "level"); err == nil {
		if abbr, ok := levelAbbreviations[level]; ok {
			w.buf.WriteString(abbr)
		} else {
			w.buf.WriteString(strings.ToUpper(level))
		}
		w.buf.WriteByte(' ')
	}
	if caller, err := jsonparser.GetString(p, "caller"); err == nil {
		w.buf.WriteString(caller)
		w.buf.WriteString(" > ")
	}
	if msg, err := jsonparser.GetString(p, "message"); err == nil {
		w.buf.WriteString(msg)
	}

	_ = jsonparser.ObjectEach(p, func(key []byte, value []byte, dataType jsonparser.ValueType, _ int) error {
		name := string(key)
		if systemFields[name] {
			return nil
		}
		w.buf.WriteString(", ")
		w.buf.WriteString(name)
		w.buf.WriteByte('=')
		if SecretFields[name] {
			w.buf.WriteString(RedactedValue)
			return nil
		}
		w.buf.Write(value)
		return nil
	})

	if errVal, err := jsonparser.GetString(p, "error"); err == nil {
		w.buf.WriteString(", error=")
		w.buf.WriteString(errVal)
	}
	if stack, err := jsonparser.GetString(p, "stack"); err == nil {
		w.buf.WriteString("\nstack:")
		w.buf.WriteString(stack)
	}
	w.buf.WriteByte('\n')

	if _, err := w.out.Write(w.buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetupLogger returns the logger of the command line tool: human-readable lines on out,
// secrets masked, callers and stack frames relative to the module root
func SetupLogger(out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = "2006-01-02 15:04:05.000"
	zerolog.ErrorStackMarshaler = CustomStackMarshaler
	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		return trimModuleRoot(file) + ":" + strconv.Itoa(line)
	}
	return zerolog.New(zerolog.SyncWriter(NewCustomWriter(out))).With().Timestamp().Caller().Logger()
}
