package objdet

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DirSource yields files of a directory as frames, in lexical order of file names.
type DirSource struct {
	files []string
	pos   int
	// Frame interval used to synthesize timestamps
	interval time.Duration
	start    time.Time
}

// NewDirSource lists dir. Only files with one of extensions are used (all files when empty).
func NewDirSource(dir string, interval time.Duration, extensions ...string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't read frames directory '%s'", dir)
	}
	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[strings.ToLower(filepath.Ext(entry.Name()))]; !ok {
				continue
			}
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return &DirSource{
		files:    files,
		interval: interval,
		start:    time.Now(),
	}, nil
}

// Len returns number of frames in the source
func (src *DirSource) Len() int {
	return len(src.files)
}

// Next implements FrameSource. Unreadable files produce a frame without data
// so the pipeline reports it as a decode failure and moves on.
func (src *DirSource) Next(ctx context.Context) (RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return RawFrame{}, err
	}
	if src.pos >= len(src.files) {
		return RawFrame{}, io.EOF
	}
	seq := uint64(src.pos)
	path := src.files[src.pos]
	src.pos++
	meta := NewFrameMeta(seq, src.start.Add(time.Duration(seq)*src.interval))
	data, err := os.ReadFile(path)
	if err != nil {
		return RawFrame{Meta: meta}, nil
	}
	return RawFrame{Meta: meta, Data: data}, nil
}
