// Package llm defines the provider-neutral LLM contract used by the
// conversation orchestrator: the chat request/response shapes, the typed
// error taxonomy, and the Provider interface together with a registry.
//
// Vendor adapters live in llm/providers and depend only on this package.
package llm
