// Package filetools implements the executor's safe, repo-scoped file
// read and file search operations, with a traversal guard and a fixed
// skip-list for noisy directories.
package filetools

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var skipDirs = map[string]bool{
	"node_modules": true, "target": true, ".git": true, "dist": true,
	"build": true, "out": true, ".next": true, "coverage": true,
	"__pycache__": true, "venv": true, ".venv": true, "vendor": true, ".turbo": true,
}

const maxSearchDepth = 20

// ExpandHome expands a leading ~ against the process's HOME.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("filetools: resolve home: %w", err)
	}
	return home + strings.TrimPrefix(path, "~"), nil
}

// normalizeFilePath strips a leading "/" and "./" from a requested file path.
func normalizeFilePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimPrefix(p, "./")
	return p
}

// ReadFile validates filePath resolves inside repoPath (after tilde
// expansion and canonicalisation) and returns its contents as UTF-8.
func ReadFile(repoPath, filePath string) (string, error) {
	filePath = normalizeFilePath(filePath)
	if filePath == "" {
		return "", fmt.Errorf("file path must not be empty")
	}

	expandedRepo, err := ExpandHome(repoPath)
	if err != nil {
		return "", err
	}
	canonicalRepo, err := filepath.EvalSymlinks(expandedRepo)
	if err != nil {
		return "", fmt.Errorf("repo path not found: %s", repoPath)
	}

	target := filepath.Join(canonicalRepo, filePath)
	canonicalTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", filePath)
		}
		return "", fmt.Errorf("resolve file: %w", err)
	}

	rel, err := filepath.Rel(canonicalRepo, canonicalTarget)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("file path escapes repo: %s", filePath)
	}

	data, err := os.ReadFile(canonicalTarget)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

// Match is one file found by SearchFiles.
type Match struct {
	Path       string
	ModifiedAt time.Time
}

// SearchFiles walks repoPath up to maxSearchDepth, skipping dotfiles and
// the fixed skip-list, matching basenames against fileName ("*.md"
// matches any non-bare ".md" file; otherwise an exact basename match).
// Results are sorted by modification time descending and capped at 50
// (200 for "*.md").
func SearchFiles(repoPath, fileName string) ([]Match, error) {
	if fileName == "" {
		return nil, fmt.Errorf("file name must not be empty")
	}
	expandedRepo, err := ExpandHome(repoPath)
	if err != nil {
		return nil, err
	}
	root, err := filepath.EvalSymlinks(expandedRepo)
	if err != nil {
		return nil, fmt.Errorf("repo path not found: %s", repoPath)
	}

	limit := 50
	isMarkdownGlob := fileName == "*.md"
	if isMarkdownGlob {
		limit = 200
	}

	var matches []Match
	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable entries.
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		depth := 0
		if rel != "." {
			depth = strings.Count(rel, string(filepath.Separator)) + 1
		}
		if info.IsDir() {
			name := info.Name()
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			if depth > maxSearchDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if depth > maxSearchDepth || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		if !basenameMatches(info.Name(), fileName) {
			return nil
		}
		matches = append(matches, Match{
			Path:       filepath.ToSlash(rel),
			ModifiedAt: info.ModTime(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("search repo: %w", walkErr)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].ModifiedAt.After(matches[j].ModifiedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func basenameMatches(name, pattern string) bool {
	if pattern == "*.md" {
		return strings.HasSuffix(name, ".md") && name != ".md"
	}
	return name == pattern
}

// FormatModifiedAt renders a match's timestamp as "YYYY-MM-DD HH:MM".
func FormatModifiedAt(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}
