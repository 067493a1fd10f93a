// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractUserContent pulls the user-authored text out of an outbound
// request body so the analyzer sees what the agent is actually sending.
// Unrecognized shapes yield an empty string, never an error.
func ExtractUserContent(dialect Dialect, body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	doc := gjson.ParseBytes(body)

	var parts []string
	switch dialect {
	case DialectAnthropic:
		if system := doc.Get("system"); system.Exists() {
			parts = append(parts, contentText(system)...)
		}
		parts = append(parts, messagesText(doc.Get("messages"))...)
	case DialectGemini:
		doc.Get("contents").ForEach(func(_, content gjson.Result) bool {
			content.Get("parts").ForEach(func(_, part gjson.Result) bool {
				if text := part.Get("text").String(); text != "" {
					parts = append(parts, text)
				}
				return true
			})
			return true
		})
	case DialectOllama:
		if prompt := doc.Get("prompt").String(); prompt != "" {
			parts = append(parts, prompt)
		}
		parts = append(parts, messagesText(doc.Get("messages"))...)
	default: // OpenAI-family chat completions and responses API
		parts = append(parts, messagesText(doc.Get("messages"))...)
		if input := doc.Get("input"); input.Exists() {
			if input.Type == gjson.String {
				parts = append(parts, input.String())
			} else {
				parts = append(parts, messagesText(input)...)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// messagesText collects the text of user-role messages. Content may be
// a plain string or a list of typed blocks.
func messagesText(messages gjson.Result) []string {
	var parts []string
	messages.ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		if role != "user" && role != "" {
			return true
		}
		parts = append(parts, contentText(msg.Get("content"))...)
		return true
	})
	return parts
}

func contentText(content gjson.Result) []string {
	if content.Type == gjson.String {
		if content.String() == "" {
			return nil
		}
		return []string{content.String()}
	}
	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if text := block.Get("text").String(); text != "" {
			parts = append(parts, text)
		}
		return true
	})
	return parts
}
