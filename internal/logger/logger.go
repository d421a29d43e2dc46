package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shaunagostinho/luminox-dash/internal/luminox"
)

// Logger records timestamped oxygen readings to CSV files with automatic rotation.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 86_400 // Rotate after one day at 1 Hz
)

var csvHeader = []string{
	"timestamp", "reading_time", "ppo2_mbar", "o2_pct", "temp_c",
	"pressure_mbar", "status", "valid", "error", "raw",
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/luminox"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 100*time.Millisecond {
		interval = time.Second // The sensor updates about once a second
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes a reading if the minimum interval has elapsed.
func (l *Logger) Record(r *luminox.Reading) {
	l.record(time.Now(), r)
}

func (l *Logger) record(now time.Time, r *luminox.Reading) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || r == nil {
		return
	}

	if now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	// Open/rotate file if needed
	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(buildRow(now, r)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("luminox_%s.csv", now.Format("2006-01-02_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	// Write header
	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(ts time.Time, r *luminox.Reading) []string {
	row := make([]string, len(csvHeader))

	row[0] = ts.Format(time.RFC3339Nano)
	if !r.Time.IsZero() {
		row[1] = r.Time.Format(time.RFC3339Nano)
	}
	row[2] = fmt.Sprintf("%.1f", r.PPO2)
	row[3] = optional(r.O2Percent, r.HasO2Percent(), "%.2f")
	row[4] = fmt.Sprintf("%.1f", r.Temperature)
	row[5] = optional(r.Pressure, r.HasPressure(), "%.0f")
	row[6] = r.Status
	row[7] = strconv.FormatBool(r.Valid)
	row[8] = r.Error
	row[9] = r.Raw

	return row
}

// optional leaves fields the sensor did not report empty.
func optional(v float64, present bool, format string) string {
	if !present {
		return ""
	}
	return fmt.Sprintf(format, v)
}
