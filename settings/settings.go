// Package settings holds the user-tunable configuration (chunk budget,
// prompt templates, archive filters) and persists it in a key/value store.
//
// Values are loaded from the store when a delivery starts, can be changed
// at runtime through the setters, and are written back by the explicit
// persist operations. Missing keys use the built-in defaults; a malformed
// or non-positive chunk size silently falls back to the default.
package settings

import (
	"slices"
	"strings"

	"github.com/hazyhaar/docfeed/docpipe"
	"github.com/hazyhaar/docfeed/prompt"
)

// Store keys.
const (
	KeyChunkSize        = "docfeed.chunk_size"
	KeyBasePrompt       = "docfeed.base_prompt"
	KeySinglePrompt     = "docfeed.single_file_prompt"
	KeyMultiPrompt      = "docfeed.multiple_files_prompt"
	KeyLastPrompt       = "docfeed.last_part_prompt"
	KeyBlacklist        = "docfeed.blacklist"
	KeyIgnoreExtensions = "docfeed.ignore_extensions"
)

// DefaultChunkSize is the chunk budget in bytes.
const DefaultChunkSize = 15000

// DefaultBlacklist lists archive members that are never extracted.
var DefaultBlacklist = []string{"package-lock.json", "yarn.lock", "pnpm-lock.yaml", ".DS_Store"}

// DefaultIgnoreExtensions lists archive member extensions that are skipped.
var DefaultIgnoreExtensions = []string{
	".exe", ".dll", ".so", ".dylib", ".bin", ".class", ".jar", ".o", ".a",
	".ico", ".woff", ".woff2", ".ttf", ".eot", ".otf",
	".mp3", ".wav", ".ogg", ".mp4", ".mov", ".avi", ".mkv",
	".zip", ".gz", ".tar", ".tgz", ".7z", ".rar",
	".lock", ".map", ".pyc", ".sqlite", ".db",
}

// Settings is one snapshot of the configuration.
type Settings struct {
	ChunkSize        int              `json:"chunk_size"`
	Templates        prompt.Templates `json:"templates"`
	Blacklist        []string         `json:"blacklist"`
	IgnoreExtensions []string         `json:"ignore_extensions"`
}

// Defaults returns the built-in configuration.
func Defaults() Settings {
	return Settings{
		ChunkSize:        DefaultChunkSize,
		Templates:        prompt.DefaultTemplates(),
		Blacklist:        slices.Clone(DefaultBlacklist),
		IgnoreExtensions: slices.Clone(DefaultIgnoreExtensions),
	}
}

// Filter returns the archive filter described by s.
func (s Settings) Filter() docpipe.ArchiveFilter {
	return docpipe.ArchiveFilter{
		Blacklist:        slices.Clone(s.Blacklist),
		IgnoreExtensions: slices.Clone(s.IgnoreExtensions),
	}
}

func (s Settings) clone() Settings {
	s.Blacklist = slices.Clone(s.Blacklist)
	s.IgnoreExtensions = slices.Clone(s.IgnoreExtensions)
	return s
}

// ParseList splits a comma-separated list, dropping blank items.
func ParseList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// FormatList joins a list the way ParseList reads it.
func FormatList(items []string) string {
	return strings.Join(ParseList(strings.Join(items, ",")), ",")
}

// Fallback records a stored value that was replaced by its default.
type Fallback struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}
