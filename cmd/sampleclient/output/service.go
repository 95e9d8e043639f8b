// Package output stores the artefacts of a single run on disk
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const runLayout = "20060102_150405"

// RunDir is a directory named after the start time of a run. It holds the
// saved search bundles and logs/app.log.
type RunDir struct {
	path    string
	stamp   string
	logFile *os.File
	log     zerolog.Logger
}

// NewRunDir creates <root>/<start time>/logs and opens the run's log file.
// Log lines go to console and to the file.
func NewRunDir(root string, console io.Writer, level zerolog.Level) (*RunDir, error) {
	stamp := time.Now().Format(runLayout)
	dir := filepath.Join(root, stamp)

	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		return nil, fmt.Errorf("create run directory %s: %w", dir, err)
	}

	f, err := os.Create(filepath.Join(dir, "logs", "app.log"))
	if err != nil {
		return nil, fmt.Errorf("create run log: %w", err)
	}

	w := zerolog.MultiLevelWriter(
		zerolog.NewConsoleWriter(func(cw *zerolog.ConsoleWriter) { cw.Out = console }),
		f,
	)

	return &RunDir{
		path:    dir,
		stamp:   stamp,
		logFile: f,
		log:     zerolog.New(w).Level(level).With().Timestamp().Caller().Logger(),
	}, nil
}

// SaveJSON stores v as <name>_<start time>.json and returns the file path
func (r *RunDir) SaveJSON(v interface{}, name string) (string, error) {
	target := filepath.Join(r.path, name+"_"+r.stamp+".json")

	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", target, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}

	r.log.Debug().Str("file", target).Msg("Saved JSON")
	return target, nil
}

func (r *RunDir) Logger() zerolog.Logger {
	return r.log
}

func (r *RunDir) Path() string {
	return r.path
}

func (r *RunDir) Close() error {
	return r.logFile.Close()
}
