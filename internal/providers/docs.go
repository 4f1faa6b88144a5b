/*
Package providers implements model resolution, the provider catalogue and the
streaming adapters that translate Anthropic Messages requests into each
upstream dialect.

# Adapter Implementation Guide

Every upstream is served by an Adapter:

	type Adapter interface {
		Stream(ctx context.Context, req *UnifiedRequest, target string, creds Credentials) (<-chan StreamResult, error)
	}

## Request Flow

 1. The gateway resolves the inbound model field into a ProviderModel with Resolve.
 2. The registry returns the adapter for the provider.
 3. Stream sends the upstream request synchronously. Any non-2xx status, or a
    response without a body, is returned as *UpstreamError before a single
    byte reaches the caller.
 4. A producer goroutine decodes the upstream body and pushes unified bytes to
    a bounded channel. It closes the channel when done and stops early when ctx
    is cancelled.

## Dialects

	openai, openrouter   OpenAIAdapter        chat/completions, re-encoded
	gemini               GeminiAdapter        streamGenerateContent, re-encoded
	anthropic, glm       PassThroughAdapter   /v1/messages, relayed verbatim
	minimax              MinimaxAdapter       /v1/messages, retried, re-encoded

Re-encoding adapters emit message_start and content_block_start before the
first upstream event and content_block_stop, message_delta and message_stop
after the last one. Each upstream event is forwarded as soon as it is decoded.

## Lossy Flattening

The OpenAI and Gemini dialects only receive text. Text blocks are joined
without separators, tool_result content is stringified, and image and tool_use
blocks are dropped. Callers that need those blocks must target a pass-through
provider.

## Error Handling

Malformed upstream chunks are logged at debug level and skipped. A read error
after streaming started is delivered once as StreamResult.Err and the channel
is closed.
*/
package providers
