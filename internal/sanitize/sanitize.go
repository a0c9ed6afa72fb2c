// Package sanitize provides shared identifier sanitization for collection
// names and upload file names.
//
// Collection names in vector stores (Qdrant, chromem) must match: ^[a-z0-9_]{1,64}$
// This package ensures all identifiers conform to this requirement.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxIdentifierLength is the maximum length for collection name components.
	// Qdrant and chromem require collection names to be 1-64 characters.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of the hash suffix added to truncated identifiers.
	// Format: _<8-char-hash> = 9 characters total
	HashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "default"

	// MaxFilenameLength bounds upload file names in bytes.
	MaxFilenameLength = 255

	// DefaultFilename replaces names that sanitize to nothing.
	DefaultFilename = "document"
)

// Identifier sanitizes a string for use in collection names.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with underscores
//   - Collapses multiple underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxIdentifierLength with hash suffix if too long
//   - Returns DefaultIdentifier if result would be empty
//
// Examples:
//
//	"Extract-D"   -> "extract_d"
//	"prod.molds"  -> "prod_molds"
//	"" or "!!!"   -> "default"
func Identifier(s string) string {
	if s == "" {
		return DefaultIdentifier
	}

	s = strings.ToLower(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultIdentifier
	}
	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized)
	}
	return sanitized
}

// truncateWithHash truncates a string to fit within MaxIdentifierLength,
// appending a hash suffix to preserve uniqueness.
//
// Format: <truncated>_<8-char-hash>
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:8]

	maxBase := MaxIdentifierLength - HashSuffixLength
	truncated := strings.TrimRight(s[:maxBase], "_")
	return truncated + hashSuffix
}

// CollectionName builds a collection name from a configured prefix and the
// kind of points it holds.
//
// Format: {sanitized_prefix}_{kind}
// Example: CollectionName("Extract-D", "elements") -> "extract_d_elements"
//
// The result is guaranteed to be valid for vector store collection names.
func CollectionName(prefix, kind string) string {
	name := Identifier(prefix)
	if kind != "" {
		name += "_" + Identifier(kind)
	}
	if len(name) > MaxIdentifierLength {
		name = truncateWithHash(name)
	}
	return name
}

// Filename reduces an untrusted upload name to a base name safe to send
// in a multipart header: directories, control characters and quotes are
// removed and the length is capped, keeping the extension when possible.
//
// Examples:
//
//	"../../etc/passwd"     -> "passwd"
//	`C:\docs\report.pdf`   -> "report.pdf"
//	"a\"b\r\n.pdf"         -> "ab.pdf"
//	"" or "/"              -> "document"
func Filename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsControl(r) || r == '"' || r == utf8.RuneError {
			continue
		}
		b.WriteRune(r)
	}
	name = strings.TrimSpace(b.String())
	if name == "" || name == "." || name == ".." || name == "/" {
		return DefaultFilename
	}
	if len(name) > MaxFilenameLength {
		ext := path.Ext(name)
		if len(ext) >= MaxFilenameLength/2 {
			ext = ""
		}
		name = truncateRunes(name[:len(name)-len(ext)], MaxFilenameLength-len(ext)) + ext
	}
	return name
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
