// Package fingerprint walks a folder's files, honoring the extension
// allow-list and exclude globs from spec.md §6, and computes the
// {relative_path, content_hash, size, modified_time} fingerprint used by
// change detection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/semindex/semindex/internal/model"
)

// SupportedExtensions is the fixed allow-list from spec.md §6: plain text,
// markdown, PDF, modern Word/spreadsheet/presentation formats.
var SupportedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".pdf":  true,
	".docx": true,
	".xlsx": true,
	".pptx": true,
}

// DefaultExcludeGlobs is the fixed default exclude set from spec.md §6:
// the tool's own cache directory, local dependency caches, source-control
// metadata, and build outputs.
var DefaultExcludeGlobs = []string{
	".semindex",
	"node_modules",
	"vendor",
	".git",
	".hg",
	".svn",
	"dist",
	"build",
	"target",
}

// IsSupported reports whether path's lowercased file extension is in the
// allow-list.
func IsSupported(path string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsExcluded reports whether any path segment of relPath matches one of
// the merged exclude globs.
func IsExcluded(relPath string, globs []string) bool {
	segments := strings.Split(filepath.ToSlash(relPath), "/")
	for _, glob := range globs {
		for _, seg := range segments {
			if ok, _ := filepath.Match(glob, seg); ok {
				return true
			}
		}
	}
	return false
}

// MergeExcludeGlobs combines the fixed defaults with user-supplied globs.
func MergeExcludeGlobs(userGlobs []string) []string {
	merged := make([]string, 0, len(DefaultExcludeGlobs)+len(userGlobs))
	merged = append(merged, DefaultExcludeGlobs...)
	merged = append(merged, userGlobs...)
	return merged
}

// Walk recursively visits root, skipping excluded paths and files outside
// the extension allow-list, returning a sorted, deterministic fingerprint
// list keyed by RelativePath (unique within the snapshot per spec.md §3).
func Walk(root string, excludeGlobs []string) ([]model.Fingerprint, error) {
	var out []model.Fingerprint
	merged := MergeExcludeGlobs(excludeGlobs)

	err := walkDir(root, "", func(relPath, absPath string, info os.FileInfo) error {
		if IsExcluded(relPath, merged) {
			return nil
		}
		if !IsSupported(relPath) {
			return nil
		}
		fp, err := fingerprintFile(relPath, absPath, info)
		if err != nil {
			return err
		}
		out = append(out, fp)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out, nil
}

func walkDir(root, relPrefix string, fn func(relPath, absPath string, info os.FileInfo) error) error {
	absDir := filepath.Join(root, relPrefix)
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return fmt.Errorf("fingerprint: readdir %s: %w", absDir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") && name != "." && name != ".." {
			// Hidden directories are always skipped (globs only exclude,
			// never re-include). Hidden files are still visited and go
			// through the allow-list and exclude globs like any other file.
			if entry.IsDir() {
				continue
			}
		}

		relPath := filepath.Join(relPrefix, name)
		absPath := filepath.Join(root, relPath)

		if entry.IsDir() {
			if err := walkDir(root, relPath, fn); err != nil {
				return err
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("fingerprint: stat %s: %w", absPath, err)
		}
		if err := fn(relPath, absPath, info); err != nil {
			return err
		}
	}
	return nil
}

func fingerprintFile(relPath, absPath string, info os.FileInfo) (model.Fingerprint, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return model.Fingerprint{}, fmt.Errorf("fingerprint: open %s: %w", absPath, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return model.Fingerprint{}, fmt.Errorf("fingerprint: hash %s: %w", absPath, err)
	}

	return model.Fingerprint{
		RelativePath: filepath.ToSlash(relPath),
		ContentHash:  hex.EncodeToString(h.Sum(nil)),
		SizeBytes:    info.Size(),
		ModifiedTime: info.ModTime(),
	}, nil
}

// HashBytes computes the same content hash fingerprintFile uses, for
// callers that already hold the file contents in memory (the pipeline
// reads a file once and reuses those bytes instead of reopening it).
func HashBytes(data []byte) (string, error) {
	h := sha256.New()
	if _, err := h.Write(data); err != nil {
		return "", fmt.Errorf("fingerprint: hash bytes: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
