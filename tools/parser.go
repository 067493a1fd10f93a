// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Provider format labels attached to parsed tool calls.
const (
	FormatOpenAI    = "openai"
	FormatAnthropic = "anthropic"
)

// ParseToolCalls extracts every tool invocation from a raw model
// response body. Both the OpenAI dialect (choices[*].message.tool_calls)
// and the Anthropic dialect (content[*] with type "tool_use") are
// recognized, as JSON documents or reassembled from SSE stream deltas.
// The parser is fail-open: unrecognized shapes and invalid JSON yield
// an empty list, never an error.
func ParseToolCalls(body []byte) []ToolCall {
	if !gjson.ValidBytes(body) {
		return parseStreamToolCalls(body)
	}

	var calls []ToolCall
	index := 0

	for _, choice := range gjson.GetBytes(body, "choices").Array() {
		for _, tc := range choice.Get("message.tool_calls").Array() {
			name := tc.Get("function.name").String()
			if name == "" {
				continue
			}
			calls = append(calls, ToolCall{
				FunctionName:   name,
				ArgumentsHash:  hashArguments(tc.Get("function.arguments").String()),
				ProviderFormat: FormatOpenAI,
				ToolCallID:     tc.Get("id").String(),
				Index:          index,
			})
			index++
		}
	}

	for _, block := range gjson.GetBytes(body, "content").Array() {
		if block.Get("type").String() != "tool_use" {
			continue
		}
		name := block.Get("name").String()
		if name == "" {
			continue
		}
		calls = append(calls, ToolCall{
			FunctionName:   name,
			ArgumentsHash:  hashArguments(block.Get("input").Raw),
			ProviderFormat: FormatAnthropic,
			ToolCallID:     block.Get("id").String(),
			Index:          index,
		})
		index++
	}

	return calls
}

// streamCall accumulates one tool call's fragments across SSE deltas.
type streamCall struct {
	name   string
	id     string
	format string
	args   strings.Builder
}

// parseStreamToolCalls reassembles tool calls from an SSE-framed body.
// OpenAI fragments arguments across choices[*].delta.tool_calls keyed
// by index; Anthropic opens a tool_use content block and streams
// input_json_delta fragments for it.
func parseStreamToolCalls(body []byte) []ToolCall {
	pending := map[int64]*streamCall{}
	var order []int64

	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(line[len("data:"):])
		if !gjson.ValidBytes(data) {
			continue
		}
		doc := gjson.ParseBytes(data)

		for _, choice := range doc.Get("choices").Array() {
			for _, tc := range choice.Get("delta.tool_calls").Array() {
				idx := tc.Get("index").Int()
				sc := pending[idx]
				if sc == nil {
					sc = &streamCall{format: FormatOpenAI}
					pending[idx] = sc
					order = append(order, idx)
				}
				if name := tc.Get("function.name").String(); name != "" {
					sc.name = name
				}
				if id := tc.Get("id").String(); id != "" {
					sc.id = id
				}
				sc.args.WriteString(tc.Get("function.arguments").String())
			}
		}

		switch doc.Get("type").String() {
		case "content_block_start":
			block := doc.Get("content_block")
			if block.Get("type").String() != "tool_use" {
				continue
			}
			idx := doc.Get("index").Int()
			pending[idx] = &streamCall{
				format: FormatAnthropic,
				name:   block.Get("name").String(),
				id:     block.Get("id").String(),
			}
			order = append(order, idx)
		case "content_block_delta":
			delta := doc.Get("delta")
			if delta.Get("type").String() != "input_json_delta" {
				continue
			}
			if sc := pending[doc.Get("index").Int()]; sc != nil {
				sc.args.WriteString(delta.Get("partial_json").String())
			}
		}
	}

	var calls []ToolCall
	for _, idx := range order {
		sc := pending[idx]
		if sc.name == "" {
			continue
		}
		args := sc.args.String()
		if args == "" {
			args = "{}"
		}
		calls = append(calls, ToolCall{
			FunctionName:   sc.name,
			ArgumentsHash:  hashArguments(args),
			ProviderFormat: sc.format,
			ToolCallID:     sc.id,
			Index:          len(calls),
		})
	}
	return calls
}

// hashArguments produces the 16-hex digest of the canonicalized
// arguments. Canonicalization parses the JSON and re-marshals it, which
// sorts object keys, so semantically identical argument objects hash
// identically regardless of key order or dialect.
func hashArguments(raw string) string {
	canonical := []byte(raw)
	var parsed interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		if b, err := json.Marshal(parsed); err == nil {
			canonical = b
		}
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16]
}
