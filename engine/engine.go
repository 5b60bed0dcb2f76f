// Package engine invokes the external font splitting engine.
//
// The engine is a black box: given one font file it writes chunked web-font
// files and, unless the font has no glyphs, a result.css stylesheet that
// references the chunks by relative URL into the output directory.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sanyyao/fontpub/cfg"
	"github.com/sanyyao/fontpub/telemetry"
)

// Job describes one split
type Job struct {
	Input      string // Source font path
	OutputDir  string // Receives chunks and result.css
	TargetType string // Chunk encoding, e.g. woff2
	ChunkSize  int    // Chunk budget in bytes
	FontFamily string // font-family written into the stylesheet
	FontWeight string // font-weight written into the stylesheet
}

// Engine splits a font into web-font chunks
type Engine interface {
	Split(ctx context.Context, job Job) error
}

// Func adapts a function to Engine
type Func func(ctx context.Context, job Job) error

func (f Func) Split(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// maxStderr bounds how much engine output is carried in an error
const maxStderr = 2048

// CommandEngine runs the engine as a child process. Each argument of the
// template may contain the placeholders {input}, {out_dir}, {target_type},
// {chunk_size}, {font_family} and {font_weight}.
type CommandEngine struct {
	Argv    []string
	Timeout time.Duration
}

// NewCommandEngine builds an engine from configuration
func NewCommandEngine(c cfg.EngineConfiguration) *CommandEngine {
	return &CommandEngine{
		Argv:    append([]string(nil), c.Command...),
		Timeout: time.Duration(c.TimeoutSeconds) * time.Second,
	}
}

// JobFor builds the split job for one font from configuration
func JobFor(c cfg.EngineConfiguration, input, outDir, fontFamily string) Job {
	return Job{
		Input:      input,
		OutputDir:  outDir,
		TargetType: c.TargetType,
		ChunkSize:  c.ChunkSizeKB * 1024,
		FontFamily: fontFamily,
		FontWeight: c.FontWeight,
	}
}

// Expand substitutes job fields into the argument template
func (e *CommandEngine) Expand(job Job) []string {
	r := strings.NewReplacer(
		"{input}", job.Input,
		"{out_dir}", job.OutputDir,
		"{target_type}", job.TargetType,
		"{chunk_size}", strconv.Itoa(job.ChunkSize),
		"{font_family}", job.FontFamily,
		"{font_weight}", job.FontWeight,
	)
	out := make([]string, len(e.Argv))
	for i, arg := range e.Argv {
		out[i] = r.Replace(arg)
	}
	return out
}

func (e *CommandEngine) Split(ctx context.Context, job Job) error {
	if len(e.Argv) == 0 {
		return errors.New("engine: empty command")
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return fmt.Errorf("engine: create output dir: %w", err)
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	argv := e.Expand(job)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug().Strs("argv", argv).Msg("Running font engine")

	start := time.Now()
	out, err := cmd.Output()
	telemetry.SplitSeconds.Observe(time.Since(start).Seconds())

	if len(out) > 0 {
		log.Debug().Str("input", job.Input).Bytes("stdout", tail(out)).Msg("Font engine output")
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("engine %s: %w", job.Input, ctx.Err())
		}
		if msg := strings.TrimSpace(string(tail(stderr.Bytes()))); msg != "" {
			return fmt.Errorf("engine %s: %w: %s", job.Input, err, msg)
		}
		return fmt.Errorf("engine %s: %w", job.Input, err)
	}
	return nil
}

func tail(b []byte) []byte {
	if len(b) > maxStderr {
		return b[len(b)-maxStderr:]
	}
	return b
}
