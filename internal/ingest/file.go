package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/origami/internal/logging"
	"github.com/good-yellow-bee/origami/internal/metrics"
	"github.com/good-yellow-bee/origami/internal/models"
)

// FileConfig configures file ingestion.
type FileConfig struct {
	Paths []string `yaml:"paths"`
	// Follow keeps JSON-lines files open and reads appended lines.
	Follow bool `yaml:"follow"`
	// StartAtEnd skips existing content when following.
	StartAtEnd bool `yaml:"start_at_end"`
	// PollInterval is the fallback check interval for followed files.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// FileSource reads packet envelopes from files. Files ending in .yaml or
// .yml hold one envelope per YAML document; anything else is JSON lines.
type FileSource struct {
	cfg     FileConfig
	decoder Decoder
	logger  *slog.Logger
}

// NewFileSource creates a file source.
func NewFileSource(cfg FileConfig, decoder Decoder, logger *slog.Logger) *FileSource {
	return &FileSource{cfg: cfg, decoder: decoder, logger: logging.OrDiscard(logger)}
}

func (s *FileSource) Name() string { return "file" }

// Run reads every configured file in order. Undecodable envelopes are
// logged and skipped. Without Follow, Run returns once all files are read.
// With Follow, every JSON-lines file is tailed concurrently until ctx is
// done.
func (s *FileSource) Run(ctx context.Context, out chan<- models.DataPacket) error {
	if s.cfg.Follow {
		return s.followAll(ctx, out)
	}

	var errs []error
	for _, path := range s.cfg.Paths {
		var err error
		if isYAML(path) {
			err = s.readYAML(ctx, path, out)
		} else {
			err = s.readLines(ctx, path, out)
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.logger.Error("read packet file failed", "path", path, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (s *FileSource) readLines(ctx context.Context, path string, out chan<- models.DataPacket) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if !s.handleLine(ctx, path, lineNo, scanner.Bytes(), out) {
			return nil
		}
	}
	return scanner.Err()
}

// handleLine decodes and sends one line. It returns false when ctx is done.
func (s *FileSource) handleLine(ctx context.Context, path string, lineNo int, line []byte, out chan<- models.DataPacket) bool {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == '#' {
		return true
	}
	p, err := s.decoder.DecodeJSON(line)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(s.Name()).Inc()
		s.logger.Warn("skipping undecodable packet", "path", path, "line", lineNo, "err", err)
		return true
	}
	metrics.PacketsReceived.WithLabelValues(s.Name()).Inc()
	return send(ctx, out, p)
}

func (s *FileSource) readYAML(ctx context.Context, path string, out chan<- models.DataPacket) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	for doc := 1; ; doc++ {
		var env envelope
		err := dec.Decode(&env)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// The decoder cannot resynchronize after a syntax error.
			metrics.DecodeErrors.WithLabelValues(s.Name()).Inc()
			return fmt.Errorf("document %d: %w", doc, err)
		}
		p, err := s.decoder.packet(env)
		if err != nil {
			metrics.DecodeErrors.WithLabelValues(s.Name()).Inc()
			s.logger.Warn("skipping invalid packet", "path", path, "document", doc, "err", err)
			continue
		}
		metrics.PacketsReceived.WithLabelValues(s.Name()).Inc()
		if !send(ctx, out, p) {
			return nil
		}
	}
}

// followAll runs one goroutine per path. A failing path is logged and
// reported without stopping the others.
func (s *FileSource) followAll(ctx context.Context, out chan<- models.DataPacket) error {
	var g errgroup.Group
	for _, path := range s.cfg.Paths {
		g.Go(func() error {
			var err error
			if isYAML(path) {
				err = s.readYAML(ctx, path, out)
			} else {
				err = s.follow(ctx, path, out)
			}
			if err != nil && ctx.Err() == nil {
				s.logger.Error("read packet file failed", "path", path, "err", err)
				return fmt.Errorf("%s: %w", path, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// follow tails a JSON-lines file until ctx is done.
func (s *FileSource) follow(ctx context.Context, path string, out chan<- models.DataPacket) error {
	t, err := newTailer(path, s.cfg.StartAtEnd, s.cfg.PollInterval, s.logger)
	if err != nil {
		return err
	}
	s.logger.Debug("following packet file", "path", t.path)
	return t.run(ctx, func(lineNo int, line []byte) bool {
		return s.handleLine(ctx, path, lineNo, line, out)
	})
}
