/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

type Logger = logrus.Logger

const timestampLayout = "2006-01-02 15:04:05.000"

var (
	registryMu   sync.RWMutex
	registry     = map[string]*logrus.Logger{}
	baseLevel    = ParseLogLevel(EnvDefaultString("LOG_LEVEL", "info"))
	outputFormat = EnvDefaultString("CONSOLE_LOG_FORMAT", "text")
	output       io.Writer = os.Stdout
)

// NewLogger returns a named logger registered for level control. Calling it
// twice with the same name returns the same instance.
func NewLogger(name string) *logrus.Logger {
	registryMu.Lock()
	defer registryMu.Unlock()
	if l, ok := registry[name]; ok {
		return l
	}
	l := logrus.New()
	l.SetOutput(output)
	l.SetLevel(baseLevel)
	l.SetReportCaller(true)
	l.SetFormatter(newFormatter(name, outputFormat))
	registry[name] = l
	return l
}

func newFormatter(name, format string) logrus.Formatter {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return &JSONLogFormatter{LoggerName: name}
	}
	return &Log4jColorFormatter{LoggerName: name, NameWidth: 10, CallerWidth: 25}
}

// ConfigureConsoleLogFormat switches every registered logger between "text"
// and "json" output.
func ConfigureConsoleLogFormat(format string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	outputFormat = format
	for name, l := range registry {
		l.SetFormatter(newFormatter(name, format))
	}
}

// ConfigureOutput redirects every registered logger, and loggers created later.
func ConfigureOutput(w io.Writer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	output = w
	for _, l := range registry {
		l.SetOutput(w)
	}
}

func ParseLogLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// SetLoggerLevel changes the level of one named logger. It reports whether
// the logger exists.
func SetLoggerLevel(name string, level string) bool {
	registryMu.RLock()
	l, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return false
	}
	l.SetLevel(ParseLogLevel(level))
	return true
}

// ConfigureLogLevel sets the level of all registered loggers.
func ConfigureLogLevel(level string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	baseLevel = ParseLogLevel(level)
	for _, l := range registry {
		l.SetLevel(baseLevel)
	}
}

// Log4jColorFormatter renders entries as
// "time LEVEL pid - [main] name file:line : message k=v".
type Log4jColorFormatter struct {
	LoggerName  string
	NameWidth   int
	CallerWidth int
}

func (f *Log4jColorFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format(timestampLayout))
	b.WriteByte(' ')
	b.WriteString(levelColor(entry.Level).Sprintf("%7s", strings.ToUpper(entry.Level.String())))
	b.WriteByte(' ')
	b.WriteString(color.MagentaString("%-6d", os.Getpid()))
	b.WriteString(" - ")
	b.WriteString(color.MagentaString("[main]"))
	b.WriteByte(' ')
	b.WriteString(color.CyanString("%*s", f.NameWidth, truncate(f.LoggerName, f.NameWidth)))
	if entry.Caller != nil {
		caller := compactCaller(entry.Caller.File, entry.Caller.Line, f.CallerWidth)
		b.WriteString(color.New(color.Faint).Sprintf(" %*s", f.CallerWidth, caller))
	}
	b.WriteString(color.New(color.Faint).Sprint(" :"))
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	for _, k := range sortedKeys(entry.Data) {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func levelColor(level logrus.Level) *color.Color {
	switch level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return color.New(color.FgRed)
	case logrus.WarnLevel:
		return color.New(color.FgYellow)
	case logrus.InfoLevel:
		return color.New(color.FgGreen)
	case logrus.DebugLevel:
		return color.New(color.FgBlue)
	default:
		return color.New(color.FgMagenta)
	}
}

// JSONLogFormatter renders one JSON object per entry.
type JSONLogFormatter struct {
	LoggerName string
}

type jsonLogRecord struct {
	Time    string                 `json:"time"`
	Level   string                 `json:"level"`
	Model   string                 `json:"model"`
	Caller  string                 `json:"caller,omitempty"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

func (f *JSONLogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	rec := jsonLogRecord{
		Time:    entry.Time.Format(timestampLayout),
		Level:   entry.Level.String(),
		Model:   f.LoggerName,
		Message: entry.Message,
	}
	if entry.Caller != nil {
		rec.Caller = filepath.Base(entry.Caller.File) + ":" + strconv.Itoa(entry.Caller.Line)
	}
	if len(entry.Data) > 0 {
		rec.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			rec.Fields[k] = v
		}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func sortedKeys(data logrus.Fields) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}

// compactCaller shortens "a/b/c/file.go:42" to fit width by abbreviating
// leading directories to their first letter, dot-joined.
func compactCaller(file string, line int, width int) string {
	parts := strings.Split(filepath.ToSlash(file), "/")
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	suffix := ":" + strconv.Itoa(line)
	out := strings.Join(parts, ".") + suffix
	if width <= 0 || len(out) <= width {
		return out
	}
	for i := 0; i < len(parts)-1; i++ {
		if r := []rune(parts[i]); len(r) > 0 {
			parts[i] = string(r[0])
		}
		out = strings.Join(parts, ".") + suffix
		if len(out) <= width {
			return out
		}
	}
	r := []rune(out)
	return string(r[len(r)-width:])
}

func EnvDefaultString(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}
	return def
}

func EnvDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return n
	}
	return def
}

func EnvDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return def
		}
		return d
	}
	return def
}
