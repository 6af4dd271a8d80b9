package sitehost

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Confine resolves an untrusted relative path against a site root.
//
// The path is normalized lexically (no filesystem access): "." and ".."
// segments and repeated separators are collapsed, and backslashes are treated
// as separators. The result is accepted only if it equals root or lies
// strictly below it. A trailing separator in userPath is kept so callers can
// tell a directory reference from a file.
//
// Rejections wrap ErrPathRejected:
//   - root is empty or not absolute
//   - userPath contains a NUL byte or invalid UTF-8
//   - userPath is absolute ("/etc", "//etc")
//   - the normalized path climbs above root ("../x", "a/../../x")
func Confine(root, userPath string) (string, error) {
	if root == "" || !filepath.IsAbs(root) {
		return "", fmt.Errorf("confine: %w: root %q is not absolute", ErrPathRejected, root)
	}

	if strings.IndexByte(userPath, 0) >= 0 || !utf8.ValidString(userPath) {
		return "", fmt.Errorf("confine: %w: invalid characters", ErrPathRejected)
	}

	p := strings.ReplaceAll(userPath, `\`, "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("confine %q: %w: absolute path", userPath, ErrPathRejected)
	}

	isDir := strings.HasSuffix(p, "/")

	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("confine %q: %w", userPath, ErrPathRejected)
	}

	root = filepath.Clean(root)
	resolved := filepath.Join(root, filepath.FromSlash(cleaned))

	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if resolved != root && !strings.HasPrefix(resolved, prefix) {
		return "", fmt.Errorf("confine %q: %w", userPath, ErrPathRejected)
	}

	if isDir && resolved != root {
		resolved += string(filepath.Separator)
	}

	return resolved, nil
}

// confineFile confines userPath and additionally requires it to name a file
// below root. It returns the absolute path and the slash-separated path
// relative to root.
func confineFile(root, userPath string) (string, string, error) {
	abs, err := Confine(root, userPath)
	if err != nil {
		return "", "", err
	}

	if strings.HasSuffix(abs, string(filepath.Separator)) || abs == filepath.Clean(root) {
		return "", "", fmt.Errorf("confine %q: %w: path must name a file", userPath, ErrInvalidInput)
	}

	rel, err := filepath.Rel(filepath.Clean(root), abs)
	if err != nil {
		return "", "", fmt.Errorf("confine %q: %w", userPath, ErrPathRejected)
	}

	return abs, filepath.ToSlash(rel), nil
}
