// Package logging is a thin leveled wrapper over the standard library's
// log package, in the teacher's own voice: short, emoji-prefixed status
// lines rather than a structured-logging dependency.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

var std = log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lmicroseconds)

// Setup creates a timestamped log file under dir and duplicates all output
// to stdout, mirroring the teacher's main.go setupLogging.
func Setup(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	name := time.Now().Format("2006-01-02_15-04-05") + ".log"
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	std.SetOutput(io.MultiWriter(os.Stdout, f))
	Info("📝 Logging to: %s", path)
	return f, nil
}

func Info(format string, args ...interface{})  { std.Printf("ℹ️  "+format, args...) }
func Warn(format string, args ...interface{})  { std.Printf("⚠️  "+format, args...) }
func Error(format string, args ...interface{}) { std.Printf("❌ "+format, args...) }
func Debug(format string, args ...interface{}) { std.Printf("🔍 "+format, args...) }
func Success(format string, args ...interface{}) { std.Printf("✅ "+format, args...) }
