package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

func normalizeBook(book string) string {
	return strings.ToLower(strings.TrimSpace(book))
}

// VerseKey returns verse:{book}:{chapter}:{verse}:{voice} with the book lowercased
func VerseKey(book string, chapter, verse int, voice string) string {
	return fmt.Sprintf("verse:%s:%d:%d:%s", normalizeBook(book), chapter, verse, voice)
}

// CommentaryKey returns commentary:{book}:{chapter}:{voice}, or
// commentary:{book}:{chapter}:{depth}:{voice} when depth is set
func CommentaryKey(book string, chapter int, depth, voice string) string {
	if depth == "" {
		return fmt.Sprintf("commentary:%s:%d:%s", normalizeBook(book), chapter, voice)
	}
	return fmt.Sprintf("commentary:%s:%d:%s:%s", normalizeBook(book), chapter, strings.ToLower(depth), voice)
}

// TextKey returns text:{sha256 of text}:{voice}. The full digest keeps
// texts with a shared prefix apart.
func TextKey(text, voice string) string {
	sum := sha256.Sum256([]byte(text))
	return "text:" + hex.EncodeToString(sum[:]) + ":" + voice
}

// hashKey maps an arbitrary key to a filesystem and object-name safe digest
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
