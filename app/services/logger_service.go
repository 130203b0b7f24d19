package services

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// LoggerService writes tagged log lines to the console and to one file per day
type LoggerService struct {
	mu         sync.Mutex
	logDir     string
	console    io.Writer
	logFile    *os.File
	logger     *log.Logger
	currentDay string
}

// NewLoggerService creates a logger writing to console and to logDir/YYYY-MM-DD.log.
// An empty logDir or one that cannot be created leaves file logging off.
func NewLoggerService(logDir string, console io.Writer) *LoggerService {
	if console == nil {
		console = os.Stdout
	}
	s := &LoggerService{
		logDir:  logDir,
		console: console,
		logger:  log.New(console, "", log.LstdFlags),
	}

	if logDir == "" {
		return s
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		s.logger.Printf("[WARNING] Could not create logs directory | %v", err)
		s.logDir = ""
		return s
	}
	if err := s.rotateLogFile(); err != nil {
		s.logger.Printf("[WARNING] Could not create log file, logging to console only | %v", err)
		return s
	}

	s.LogInfo("Logger initialized", fmt.Sprintf("Log directory: %s", s.logDir))
	return s
}

// rotateLogFile switches to the current day's file. Callers hold s.mu or
// have exclusive access.
func (s *LoggerService) rotateLogFile() error {
	today := time.Now().Format("2006-01-02")
	if s.currentDay == today && s.logFile != nil {
		return nil
	}

	file, err := os.OpenFile(filepath.Join(s.logDir, today+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if s.logFile != nil {
		s.logFile.Close()
	}

	s.logFile = file
	s.currentDay = today
	s.logger.SetOutput(io.MultiWriter(s.console, file))
	return nil
}

func (s *LoggerService) write(tag, message string, err error, details []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.logDir != "" && s.currentDay != time.Now().Format("2006-01-02") {
		if rotateErr := s.rotateLogFile(); rotateErr != nil {
			s.logger.Printf("[WARNING] Log rotation failed | %v", rotateErr)
		}
	}

	var b strings.Builder
	b.WriteString("[" + tag + "] " + message)
	if err != nil {
		fmt.Fprintf(&b, " | Error: %v", err)
	}
	if len(details) > 0 && details[0] != "" {
		b.WriteString(" | " + strings.Join(details, " "))
	}
	s.logger.Print(b.String())
}

// LogInfo logs an informational message
func (s *LoggerService) LogInfo(message string, details ...string) {
	s.write("INFO", message, nil, details)
}

// LogWarning logs a warning message
func (s *LoggerService) LogWarning(message string, details ...string) {
	s.write("WARNING", message, nil, details)
}

// LogError logs an error message
func (s *LoggerService) LogError(message string, err error, details ...string) {
	s.write("ERROR", message, err, details)
}

// LogPanic logs a recovered panic with its stack trace
func (s *LoggerService) LogPanic(recovered interface{}) {
	s.write("PANIC", fmt.Sprintf("Recovered from panic: %v", recovered), nil, []string{"\n" + string(debug.Stack())})
}

// RecoverPanic is deferred at the top of goroutines
func (s *LoggerService) RecoverPanic() {
	if r := recover(); r != nil {
		s.LogPanic(r)
	}
}

// GetLogDirectory returns the directory where logs are stored
func (s *LoggerService) GetLogDirectory() string {
	return s.logDir
}

// CleanOldLogs removes .log files older than daysToKeep days
func (s *LoggerService) CleanOldLogs(daysToKeep int) error {
	if s.logDir == "" {
		return nil
	}
	files, err := os.ReadDir(s.logDir)
	if err != nil {
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -daysToKeep)
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".log" {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.logDir, file.Name())
			s.LogInfo("Deleting old log file", path)
			os.Remove(path)
		}
	}
	return nil
}

// Close closes the log file
func (s *LoggerService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile != nil {
		s.logFile.Close()
		s.logFile = nil
	}
}
