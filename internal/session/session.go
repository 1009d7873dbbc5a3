// Package session derives sticky-session identities from raw request bodies.
// Claude Code embeds a session id in metadata.user_id; other clients are
// keyed by hashing stable prompt-prefix content so consecutive turns of one
// conversation land on the same upstream account.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var userIDPattern = regexp.MustCompile(`session_([a-f0-9-]{36})`)

// Hash derives the session identity for a request body. Sources are tried in
// order: the session id inside metadata.user_id, cache-marked prompt
// content, the system prompt, and finally the first message. ok is false
// when none of them yields content to key on.
func Hash(body []byte) (hash string, ok bool) {
	root := gjson.ParseBytes(body)

	if userID := root.Get("metadata.user_id"); userID.Type == gjson.String {
		if m := userIDPattern.FindStringSubmatch(userID.Str); m != nil {
			return m[1], true
		}
	}

	if content := cacheableContent(root); content != "" {
		return hashContent(content), true
	}

	if system := root.Get("system"); system.Exists() {
		if text := systemText(system); text != "" {
			return hashContent(text), true
		}
	}

	if messages := root.Get("messages"); messages.IsArray() {
		if arr := messages.Array(); len(arr) > 0 {
			if text := messageText(arr[0]); text != "" {
				return hashContent(text), true
			}
		}
	}

	return "", false
}

// cacheableContent concatenates the system parts marked with an ephemeral
// cache_control and the text of the first message carrying such a marker.
// Cache-marked content is the prompt prefix clients keep stable across
// turns, which makes it the strongest fallback identity.
func cacheableContent(root gjson.Result) string {
	var b strings.Builder

	if system := root.Get("system"); system.IsArray() {
		system.ForEach(func(_, part gjson.Result) bool {
			if part.Get("cache_control.type").String() == "ephemeral" {
				if text := part.Get("text"); text.Type == gjson.String {
					b.WriteString(text.Str)
				}
			}
			return true
		})
	}

	if messages := root.Get("messages"); messages.IsArray() {
		for _, msg := range messages.Array() {
			if hasEphemeralMarker(msg) {
				b.WriteString(messageText(msg))
				break
			}
		}
	}

	return b.String()
}

func hasEphemeralMarker(msg gjson.Result) bool {
	if msg.Get("cache_control.type").String() == "ephemeral" {
		return true
	}
	marked := false
	if content := msg.Get("content"); content.IsArray() {
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("cache_control.type").String() == "ephemeral" {
				marked = true
				return false
			}
			return true
		})
	}
	return marked
}

// systemText flattens a system prompt: strings pass through, arrays join
// every text field regardless of part type.
func systemText(system gjson.Result) string {
	if system.Type == gjson.String {
		return system.Str
	}
	if system.IsArray() {
		var b strings.Builder
		system.ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Type == gjson.String {
				b.WriteString(text.Str)
			}
			return true
		})
		return b.String()
	}
	return ""
}

// messageText flattens message content: strings pass through, arrays join
// only the parts typed "text".
func messageText(msg gjson.Result) string {
	content := msg.Get("content")
	if content.Type == gjson.String {
		return content.Str
	}
	if content.IsArray() {
		var b strings.Builder
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "text" {
				if text := part.Get("text"); text.Type == gjson.String {
					b.WriteString(text.Str)
				}
			}
			return true
		})
		return b.String()
	}
	return ""
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:16])
}
