package scraping

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"madridtracker/server/internal/models"
)

// maxLineBytes bounds a single JSON line; descriptions can be long.
const maxLineBytes = 4 << 20

// IngestResult is what was read from an observation archive.
type IngestResult struct {
	Observations []models.Observation
	Malformed    int
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

type gzipReadCloser struct {
	*gzip.Reader
	underlying io.Closer
}

func (g gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.underlying.Close(); err == nil {
		err = cerr
	}
	return err
}

// OpenSource opens a local path or an http(s) URL through fetcher. Sources
// ending in .gz are decompressed.
func OpenSource(ctx context.Context, src string, fetcher *ThrottledFetcher, stats *RequestStats) (io.ReadCloser, error) {
	var rc io.ReadCloser
	if isRemote(src) {
		if fetcher == nil {
			return nil, fmt.Errorf("no fetcher configured for %s", src)
		}
		body, err := fetcher.Get(ctx, src, stats)
		if err != nil {
			return nil, err
		}
		rc = body
	} else {
		f, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", src, err)
		}
		rc = f
	}

	if !strings.HasSuffix(src, ".gz") {
		return rc, nil
	}
	zr, err := gzip.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to open gzip stream %s: %w", src, err)
	}
	return gzipReadCloser{Reader: zr, underlying: rc}, nil
}

// ReadObservations decodes one observation per line. Blank lines are skipped
// and undecodable lines are counted, not fatal.
func ReadObservations(r io.Reader) (IngestResult, error) {
	result := IngestResult{Observations: []models.Observation{}}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var o models.Observation
		if err := json.Unmarshal([]byte(line), &o); err != nil {
			result.Malformed++
			continue
		}
		result.Observations = append(result.Observations, o)
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read observations: %w", err)
	}
	return result, nil
}

// ReadSource opens src and decodes every observation in it.
func ReadSource(ctx context.Context, src string, fetcher *ThrottledFetcher, stats *RequestStats) (IngestResult, error) {
	rc, err := OpenSource(ctx, src, fetcher, stats)
	if err != nil {
		return IngestResult{}, err
	}
	defer rc.Close()
	return ReadObservations(rc)
}
