// Package scan enumerates candidate module files and inspects each one
// independently. A failing candidate never stops the enumeration.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/carved4/go-pluginmeta/pkg/errors"
	"github.com/carved4/go-pluginmeta/pkg/plugin"
)

type Status string

const (
	StatusPlugin    Status = "plugin"
	StatusNotPlugin Status = "not-plugin"
	StatusTooNew    Status = "too-new"
	StatusBroken    Status = "broken"
	StatusError     Status = "error"
)

// Classify maps a load error to the status a host reports for the candidate.
func Classify(err error) Status {
	if err == nil {
		return StatusPlugin
	}
	switch errors.CodeOf(err) {
	case errors.ErrSymbolNotFound:
		return StatusNotPlugin
	case errors.ErrVersionUnsupported:
		return StatusTooNew
	case errors.ErrFormat, errors.ErrDataCorrupt:
		return StatusBroken
	}
	return StatusError
}

type Result struct {
	Path        string       `json:"path" yaml:"path"`
	Status      Status       `json:"status" yaml:"status"`
	Info        *plugin.Info `json:"info,omitempty" yaml:"info,omitempty"`
	Fingerprint string       `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	DuplicateOf string       `json:"duplicate_of,omitempty" yaml:"duplicate_of,omitempty"`
	Error       string       `json:"error,omitempty" yaml:"error,omitempty"`
	Err         error        `json:"-" yaml:"-"`
}

type Scanner struct {
	Options plugin.Options
	// Extensions filters files found while walking directories. Paths given
	// directly to Scan are always inspected.
	Extensions     []string
	Workers        int
	Recursive      bool
	FollowSymlinks bool
	// Dedupe marks plugins whose image bytes match an earlier result.
	Dedupe bool
	Logger zerolog.Logger
}

// Inspect loads one candidate and releases its buffer before returning.
func (s *Scanner) Inspect(path string) Result {
	opts := s.Options
	opts.Logger = s.Logger
	res := Result{Path: path}

	d, err := plugin.LoadWithOptions(path, opts)
	res.Status = Classify(err)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		ev := s.Logger.Warn()
		if errors.IsBenign(err) {
			ev = s.Logger.Debug()
		}
		ev.Str("path", path).Str("status", string(res.Status)).Err(err).Msg("candidate skipped")
		return res
	}
	defer func() {
		if cerr := d.Close(); cerr != nil {
			s.Logger.Warn().Err(cerr).Str("path", path).Msg("failed to release image buffer")
		}
	}()

	info := d.Info()
	res.Info = &info
	res.Fingerprint = fmt.Sprintf("%016x", xxh3.Hash(d.Bytes()))
	s.Logger.Info().
		Str("path", path).
		Str("name", info.Name).
		Str("version", info.Version.String()).
		Msg("plugin found")
	return res
}

// Scan inspects every candidate under roots using up to Workers goroutines.
// Results come back in candidate order. Only a walk failure or ctx
// cancellation returns an error.
func (s *Scanner) Scan(ctx context.Context, roots ...string) ([]Result, error) {
	paths, err := s.Candidates(roots...)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(paths))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < max(s.Workers, 1); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = s.Inspect(paths[i])
			}
		}()
	}

	var cancelled error
feed:
	for i := range paths {
		if cancelled = ctx.Err(); cancelled != nil {
			break
		}
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	if cancelled != nil {
		return nil, cancelled
	}

	if s.Dedupe {
		markDuplicates(results)
	}
	return results, nil
}

func markDuplicates(results []Result) {
	first := make(map[string]string)
	for i := range results {
		r := &results[i]
		if r.Status != StatusPlugin || r.Fingerprint == "" {
			continue
		}
		if p, ok := first[r.Fingerprint]; ok {
			r.DuplicateOf = p
			continue
		}
		first[r.Fingerprint] = r.Path
	}
}

// Candidates expands roots into a sorted, de-duplicated list of files.
func (s *Scanner) Candidates(roots ...string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("scan root %s: %w", root, err)
		}
		if !info.IsDir() {
			add(filepath.Clean(root))
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				s.Logger.Warn().Err(err).Str("path", path).Msg("walk error")
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if path != root && !s.Recursive {
					return fs.SkipDir
				}
				return nil
			}
			if !s.matches(path) {
				return nil
			}
			if d.Type()&fs.ModeSymlink != 0 {
				if !s.FollowSymlinks {
					return nil
				}
				if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
					return nil
				}
			} else if !d.Type().IsRegular() {
				return nil
			}
			add(path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan root %s: %w", root, err)
		}
	}

	sort.Strings(out)
	return out, nil
}

func (s *Scanner) matches(path string) bool {
	if len(s.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, e := range s.Extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// Summarize counts results per status.
func Summarize(results []Result) map[Status]int {
	counts := make(map[Status]int)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}
