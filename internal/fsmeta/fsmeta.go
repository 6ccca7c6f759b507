// Package fsmeta implements the text encoding that represents directory
// and file records inside channel messages. The format is version-tagged
// and must remain stable across releases: every message starts with
// TagPrefix, followed by a record marker (#dir or #file) and
// space-delimited key=value fields.
package fsmeta

import (
	"fmt"
	"strings"
	"unicode"
)

// TagPrefix marks a message as belonging to this application. Changing it
// orphans every previously published record.
const TagPrefix = "#ocltg #v1"

// RootParentID is the sentinel used on the wire for directories without a
// parent. Local records store an empty parent id instead.
const RootParentID = "ROOT"

// DirMeta is the decoded form of a directory message body.
type DirMeta struct {
	DirID    string
	ParentID string // RootParentID or a directory id
	Name     string
}

// FileMeta is the decoded form of a file message caption.
type FileMeta struct {
	DirID     string
	FileID    string
	Name      string
	HashShort string
}

// ErrNotRecognized is returned when a message body carries none of the
// required tag markers. Callers use it to tell foreign messages apart
// from corrupt ones.
type ErrNotRecognized struct{}

func (ErrNotRecognized) Error() string { return "not a storage message" }

// ErrMissingField is returned when the tag markers are present but a
// required key is absent. Decoding never partially succeeds.
type ErrMissingField struct {
	Field string
}

func (e ErrMissingField) Error() string { return fmt.Sprintf("missing field: %s", e.Field) }

// EncodeDir renders a directory record as a message body.
func EncodeDir(m DirMeta) string {
	return fmt.Sprintf("%s #dir d=%s p=%s name=%s", TagPrefix, m.DirID, m.ParentID, escapeSpaces(m.Name))
}

// EncodeFile renders a file record as a message caption.
func EncodeFile(m FileMeta) string {
	return fmt.Sprintf("%s #file d=%s f=%s n=%s h=%s", TagPrefix, m.DirID, m.FileID, escapeSpaces(m.Name), m.HashShort)
}

// EncodeFileWithTag renders a file caption with an optional trailing
// folder hashtag so files stay findable by hand in the channel.
func EncodeFileWithTag(m FileMeta, dirName string) string {
	base := EncodeFile(m)
	if tag := FolderHashtag(dirName); tag != "" {
		return base + " " + tag
	}
	return base
}

// DecodeDir parses a directory record from a message body.
func DecodeDir(text string) (DirMeta, error) {
	if !strings.Contains(text, "#ocltg") || !strings.Contains(text, "#v1") || !strings.Contains(text, "#dir") {
		return DirMeta{}, ErrNotRecognized{}
	}
	kv := kvMap(text)
	m := DirMeta{}
	var ok bool
	if m.DirID, ok = kv["d"]; !ok {
		return DirMeta{}, ErrMissingField{Field: "d"}
	}
	if m.ParentID, ok = kv["p"]; !ok {
		return DirMeta{}, ErrMissingField{Field: "p"}
	}
	name, ok := kv["name"]
	if !ok {
		return DirMeta{}, ErrMissingField{Field: "name"}
	}
	m.Name = unescapeSpaces(name)
	return m, nil
}

// DecodeFile parses a file record from a message caption.
func DecodeFile(caption string) (FileMeta, error) {
	if !strings.Contains(caption, "#ocltg") || !strings.Contains(caption, "#v1") || !strings.Contains(caption, "#file") {
		return FileMeta{}, ErrNotRecognized{}
	}
	kv := kvMap(caption)
	m := FileMeta{}
	var ok bool
	if m.DirID, ok = kv["d"]; !ok {
		return FileMeta{}, ErrMissingField{Field: "d"}
	}
	if m.FileID, ok = kv["f"]; !ok {
		return FileMeta{}, ErrMissingField{Field: "f"}
	}
	name, ok := kv["n"]
	if !ok {
		return FileMeta{}, ErrMissingField{Field: "n"}
	}
	m.Name = unescapeSpaces(name)
	if m.HashShort, ok = kv["h"]; !ok {
		return FileMeta{}, ErrMissingField{Field: "h"}
	}
	return m, nil
}

func kvMap(input string) map[string]string {
	out := make(map[string]string)
	for _, tok := range strings.Fields(input) {
		k, v, found := strings.Cut(tok, "=")
		if found {
			out[k] = v
		}
	}
	return out
}

// Values travel inside space-delimited fields, so spaces become
// underscores and literal underscores are doubled to survive the round
// trip.
func escapeSpaces(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "_", "__"), " ", "_")
}

func unescapeSpaces(s string) string {
	const placeholder = "\x00"
	tmp := strings.ReplaceAll(s, "__", placeholder)
	tmp = strings.ReplaceAll(tmp, "_", " ")
	return strings.ReplaceAll(tmp, placeholder, "_")
}

// FolderHashtag normalizes a directory name into a hashtag: alphanumeric
// runs joined by single underscores. Returns "" when nothing survives
// normalization.
func FolderHashtag(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	var b strings.Builder
	lastUnderscore := false
	for _, ch := range trimmed {
		switch {
		case isAlphanumeric(ch):
			b.WriteRune(ch)
			lastUnderscore = false
		case ch == '_' || ch == '-' || ch == '.' || isSpace(ch):
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	cleaned := strings.Trim(b.String(), "_")
	if cleaned == "" {
		return ""
	}
	return "#" + cleaned
}

// ExtractFolderTags returns the hashtags found in a caption, excluding
// the reserved protocol tags, in order of appearance.
func ExtractFolderTags(caption string) []string {
	var tags []string
	runes := []rune(caption)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '#' {
			continue
		}
		var b strings.Builder
		for i+1 < len(runes) {
			c := runes[i+1]
			if isAlphanumeric(c) || c == '_' || c == '-' {
				b.WriteRune(c)
				i++
			} else {
				break
			}
		}
		tag := b.String()
		if tag == "" || isReservedTag(strings.ToLower(tag)) {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}

// NormalizeTagName converts a hashtag back into a human directory name:
// underscores and dashes become single spaces.
func NormalizeTagName(tag string) string {
	var b strings.Builder
	lastSpace := false
	for _, ch := range tag {
		mapped := ch
		if ch == '_' || ch == '-' {
			mapped = ' '
		}
		if isSpace(mapped) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		} else {
			b.WriteRune(mapped)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

func isReservedTag(tag string) bool {
	switch tag {
	case "ocltg", "v1", "file", "dir":
		return true
	}
	return false
}

func isAlphanumeric(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch)
}

func isSpace(ch rune) bool {
	return unicode.IsSpace(ch)
}
