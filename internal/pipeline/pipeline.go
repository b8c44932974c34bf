// Package pipeline is the thin collaborator between the HTTP surface and
// the Supervisor (spec.md §4.4): it materializes an in-memory PDF to a
// scoped temporary file, submits the path to the Pool, and guarantees
// cleanup on every exit path. Grounded on Vortex's
// internal/runner.ProcessRunner.Execute temp-file lifecycle, simplified
// since admission control already lives in the Pool's queue.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/NumericFactory/ocr-service-paddle/internal/ocr"
)

// Runner is the subset of *ocr.Pool the pipeline depends on.
type Runner interface {
	Run(pdfPath, clientRequestID string) (ocr.Result, error)
}

// Pipeline wires PDF bytes to the Supervisor.
type Pipeline struct {
	pool Runner
}

// New constructs a Pipeline over the given Supervisor.
func New(pool Runner) *Pipeline {
	return &Pipeline{pool: pool}
}

// Submit writes pdfBytes to a freshly created temporary directory, submits
// the resulting path to the Supervisor, and removes the directory
// regardless of outcome.
func (p *Pipeline) Submit(pdfBytes []byte, clientRequestID string) (ocr.Result, error) {
	dir, err := os.MkdirTemp("", "ocr-job-*")
	if err != nil {
		return ocr.Result{}, fmt.Errorf("pipeline: creating temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Str("dir", dir).Err(err).Msg("pipeline: failed to remove temp dir")
		}
	}()

	pdfPath := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(pdfPath, pdfBytes, 0o600); err != nil {
		return ocr.Result{}, fmt.Errorf("pipeline: writing temp file: %w", err)
	}

	return p.pool.Run(pdfPath, clientRequestID)
}
