package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"photostage/internal/logging"
	"photostage/internal/metrics"
)

// Sentinel errors for extraction failures. They end up in Result.Err so a
// staged image record can carry a classified reason instead of a panic.
var (
	ErrToolUnavailable = errors.New("metadata tool not available")
	ErrToolTimeout     = errors.New("metadata tool timed out")
	ErrMalformedOutput = errors.New("metadata tool produced malformed output")
)

// Extraction methods recorded on the staged image.
const (
	MethodToolFast = "tool_fast"
	MethodToolFull = "tool_full"
	MethodFallback = "fallback"
	MethodNone     = "none"
)

// Mode selects between the quick first pass used during upload and the
// thorough pass run by the background job.
type Mode int

const (
	// ModeFast skips maker notes and stops reading early. Used on the
	// synchronous upload path where latency matters more than depth.
	ModeFast Mode = iota
	// ModeFull reads everything the tool can find.
	ModeFull
)

// Result is the outcome of one extraction attempt. Extraction never fails
// outright; a Result with Method set to MethodNone and a non-nil Err means
// every method was exhausted.
type Result struct {
	Metadata map[string]interface{}
	Raw      map[string]interface{}
	Method   string
	Err      error
}

// Engine wraps the external exiftool binary with an in-process fallback
// decoder. Availability is probed once at construction; a missing binary
// routes every extraction straight to the fallback.
type Engine struct {
	toolPath  string
	timeout   time.Duration
	available bool
}

// NewEngine probes for the tool at toolPath and returns an engine. A probe
// failure is not an error; the engine degrades to the fallback decoder.
func NewEngine(toolPath string, timeout time.Duration) *Engine {
	e := &Engine{toolPath: toolPath, timeout: timeout}
	if _, err := exec.LookPath(toolPath); err != nil {
		logging.Warn("exiftool not found at %q, using fallback extraction only: %v", toolPath, err)
	} else {
		e.available = true
	}
	return e
}

// Available reports whether the external tool was found at startup.
func (e *Engine) Available() bool {
	return e.available
}

func (e *Engine) args(mode Mode, paths ...string) []string {
	args := []string{"-json", "-n", "-g0:1"}
	if mode == ModeFast {
		// -fast2 stops reading at the first image data; maker notes are
		// the bulk of what full mode adds and the slowest to parse.
		args = append(args, "-fast2", "--MakerNotes:all")
	}
	return append(args, paths...)
}

func method(mode Mode) string {
	if mode == ModeFast {
		return MethodToolFast
	}
	return MethodToolFull
}

func recordExtraction(res Result, start time.Time) {
	status := "ok"
	if res.Err != nil {
		status = "error"
	}
	metrics.ExtractionsTotal.WithLabelValues(res.Method, status).Inc()
	metrics.ExtractionDuration.WithLabelValues(res.Method).Observe(time.Since(start).Seconds())
}

// Extract reads metadata for a single file. It tries the external tool
// first, falls back to the in-process decoder, and only reports failure
// when both are exhausted.
func (e *Engine) Extract(ctx context.Context, path string, mode Mode) Result {
	start := time.Now()
	res := e.extract(ctx, path, mode)
	recordExtraction(res, start)
	return res
}

func (e *Engine) extract(ctx context.Context, path string, mode Mode) Result {
	if e.available {
		res := e.runTool(ctx, path, mode)
		if res.Err == nil {
			return res
		}
		logging.Warn("tool extraction failed for %s, trying fallback: %v", path, res.Err)
		metrics.ExtractionFallbacks.Inc()
		toolErr := res.Err

		fb := extractFallback(path)
		if fb.Err == nil {
			return fb
		}
		// Keep the tool error; it classifies the more interesting failure.
		return Result{Method: MethodNone, Err: toolErr}
	}

	fb := extractFallback(path)
	if fb.Err == nil {
		return fb
	}
	return Result{Method: MethodNone, Err: fmt.Errorf("%w: %v", ErrToolUnavailable, fb.Err)}
}

// ExtractBatch reads metadata for many files with a single tool invocation.
// Results are keyed by input path. When the batch invocation fails as a
// whole, each file is retried individually so one unreadable file cannot
// poison its neighbours.
func (e *Engine) ExtractBatch(ctx context.Context, paths []string, mode Mode) map[string]Result {
	results := make(map[string]Result, len(paths))
	if len(paths) == 0 {
		return results
	}

	if e.available {
		if err := e.runToolBatch(ctx, paths, mode, results); err == nil {
			// Files the tool skipped (unreadable, vanished) still need an entry.
			for _, p := range paths {
				if _, ok := results[p]; !ok {
					results[p] = e.Extract(ctx, p, mode)
				}
			}
			return results
		} else {
			logging.Warn("batch extraction failed, falling back to per-file: %v", err)
		}
	}

	for _, p := range paths {
		results[p] = e.Extract(ctx, p, mode)
	}
	return results
}

func (e *Engine) runTool(ctx context.Context, path string, mode Mode) Result {
	docs, err := e.invoke(ctx, e.args(mode, path))
	if err != nil {
		return Result{Method: MethodNone, Err: err}
	}
	if len(docs) == 0 {
		return Result{Method: MethodNone, Err: fmt.Errorf("%w: no document for %s", ErrMalformedOutput, path)}
	}
	raw := flattenGroups(docs[0])
	return Result{
		Metadata: Normalize(raw, path),
		Raw:      raw,
		Method:   method(mode),
		Err:      nil,
	}
}

func (e *Engine) runToolBatch(ctx context.Context, paths []string, mode Mode, results map[string]Result) error {
	docs, err := e.invoke(ctx, e.args(mode, paths...))
	if err != nil {
		return err
	}
	for _, doc := range docs {
		raw := flattenGroups(doc)
		src, _ := raw["SourceFile"].(string)
		if src == "" {
			continue
		}
		results[src] = Result{
			Metadata: Normalize(raw, src),
			Raw:      raw,
			Method:   method(mode),
		}
		metrics.ExtractionsTotal.WithLabelValues(method(mode), "ok").Inc()
	}
	return nil
}

// invoke runs the tool and decodes its JSON array output. exiftool exits
// non-zero when any input file has errors but still emits documents for the
// rest, so a run error with parseable output is not fatal.
func (e *Engine) invoke(ctx context.Context, args []string) ([]map[string]interface{}, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.toolPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	logging.Debug("exiftool ran in %s: %v", time.Since(start), args[:min(len(args), 4)])

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w after %s", ErrToolTimeout, e.timeout)
	}

	var docs []map[string]interface{}
	if err := json.Unmarshal(stdout.Bytes(), &docs); err != nil {
		if runErr != nil {
			if errors.Is(runErr, exec.ErrNotFound) {
				return nil, fmt.Errorf("%w: %v", ErrToolUnavailable, runErr)
			}
			return nil, fmt.Errorf("exiftool error: %w - %s", runErr, stderr.String())
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return docs, nil
}

// flattenGroups collapses exiftool's -g0:1 grouped output into a single
// flat tag map. Group prefixes are dropped; on key collision the first
// occurrence wins, matching exiftool's own tag precedence order.
func flattenGroups(doc map[string]interface{}) map[string]interface{} {
	flat := make(map[string]interface{}, len(doc))
	for key, val := range doc {
		group, ok := val.(map[string]interface{})
		if !ok {
			if _, exists := flat[key]; !exists {
				flat[key] = val
			}
			continue
		}
		for tag, tagVal := range group {
			if _, exists := flat[tag]; !exists {
				flat[tag] = tagVal
			}
		}
	}
	return flat
}
