// Package workspace implements the file-system collaborator: confinement of
// relative paths to a workspace root, the file tree walker, and the
// read/write/create/delete/rename primitives the REST layer and the
// write-approval workflow commit through.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var ErrInvalidPath = errors.New("path escapes workspace root")

// Manager resolves session workspaces under a single base directory.
type Manager struct {
	Base string
}

func NewManager(base string) (*Manager, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace base: %w", err)
	}
	return &Manager{Base: abs}, nil
}

// Dir returns the workspace root for a session key, creating it on demand.
func (m *Manager) Dir(sessionKey string) (string, error) {
	dir := filepath.Join(m.Base, sessionKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace dir: %w", err)
	}
	return dir, nil
}

// SafePath joins a workspace-relative path onto root, rejecting anything
// that resolves outside root.
func (m *Manager) SafePath(root, rel string) (string, error) {
	full := filepath.Join(root, filepath.FromSlash(rel))
	full = filepath.Clean(full)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return full, nil
}

// CheckPath validates confinement without touching the file system.
func (m *Manager) CheckPath(root, rel string) error {
	_, err := m.SafePath(root, rel)
	return err
}

// TreeNode is one entry of the workspace file tree.
type TreeNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	IsDir    bool       `json:"is_dir"`
	Children []TreeNode `json:"children,omitempty"`
}

// Tree walks the directory at rel under root. Directories sort before
// files, names case-insensitively; dotfiles are skipped. Unreadable
// directories are silently omitted.
func (m *Manager) Tree(root, rel string) ([]TreeNode, error) {
	target, err := m.SafePath(root, rel)
	if err != nil {
		return nil, err
	}
	return walkTree(target, target)
}

func walkTree(base, dir string) ([]TreeNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsPermission(err) {
			return nil, nil
		}
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	var tree []TreeNode
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		relPath, err := filepath.Rel(base, full)
		if err != nil {
			relPath = entry.Name()
		}
		node := TreeNode{
			Name:  entry.Name(),
			Path:  filepath.ToSlash(relPath),
			IsDir: entry.IsDir(),
		}
		if entry.IsDir() {
			children, err := walkTree(base, full)
			if err != nil {
				return nil, err
			}
			node.Children = children
		}
		tree = append(tree, node)
	}
	return tree, nil
}

// ReadFile returns a file's content and modification time.
func (m *Manager) ReadFile(root, rel string) (string, time.Time, error) {
	full, err := m.SafePath(root, rel)
	if err != nil {
		return "", time.Time{}, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", time.Time{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", time.Time{}, err
	}
	return string(data), info.ModTime(), nil
}

// WriteFile commits content to a confined path and returns the new
// modification time. Concurrent writes are last-write-wins; no locking
// beyond the OS's own is attempted.
func (m *Manager) WriteFile(ctx context.Context, root, rel, content string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	full, err := m.SafePath(root, rel)
	if err != nil {
		return time.Time{}, err
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return time.Time{}, fmt.Errorf("failed to write file: %w", err)
	}
	info, err := os.Stat(full)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// CreateEntry creates an empty file, or a directory when isDir is set.
func (m *Manager) CreateEntry(root, rel string, isDir bool) error {
	full, err := m.SafePath(root, rel)
	if err != nil {
		return err
	}
	if isDir {
		return os.MkdirAll(full, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, nil, 0o644)
}

// DeleteEntry removes a file or a directory tree.
func (m *Manager) DeleteEntry(root, rel string) error {
	full, err := m.SafePath(root, rel)
	if err != nil {
		return err
	}
	return os.RemoveAll(full)
}

// RenameEntry moves oldRel to newRel, both confined to root.
func (m *Manager) RenameEntry(root, oldRel, newRel string) error {
	oldFull, err := m.SafePath(root, oldRel)
	if err != nil {
		return err
	}
	newFull, err := m.SafePath(root, newRel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newFull), 0o755); err != nil {
		return err
	}
	return os.Rename(oldFull, newFull)
}

// Clone populates dir from a git remote. Bounded by the caller's context;
// failures surface as ordinary errors, never as stalls.
func (m *Manager) Clone(ctx context.Context, url, dir string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", url, dir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to clone %s: %v: %s", url, err, strings.TrimSpace(string(out)))
	}
	return nil
}
