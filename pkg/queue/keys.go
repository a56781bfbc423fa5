package queue

import (
	"strings"
)

// knownProviderAliases maps provider-only strings (no model component) to the
// canonical "default" queue key — a bare provider name carries no useful
// routing information once aggregated (spec §4.1).
var knownProviderAliases = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"claude":    true,
	"google":    true,
	"gemini":    true,
	"default":   true,
}

// modelProviderAliases maps a model-string provider prefix to the reporting
// label used for Trial.Provider. This is a display/aggregation label only —
// §9 is explicit that queue routing must never branch on provider, so this
// table is never consulted by NormalizeQueueKey.
var modelProviderAliases = map[string]string{
	"anthropic": "claude",
	"claude":    "claude",
	"bedrock":   "claude",
	"gemini":    "gemini",
	"google":    "gemini",
	"vertex_ai": "gemini",
	"palm":      "gemini",
}

// nopOracleAgents are agents that run without a real model; their queue key
// always resolves to the literal "default" model (spec §4.1).
var nopOracleAgents = map[string]bool{
	"nop":    true,
	"oracle": true,
}

// NormalizeQueueKey canonicalizes a raw model/queue-key string into the form
// "provider/model" used as the jobq entrypoint, the slot lessor's queue_key,
// and the enqueue path. It must be idempotent: normalizing an already
// normalized key returns it unchanged (spec §4.1).
//
// agent, when one of the nop/oracle agents, forces the model component to
// the literal "default" regardless of the raw model string.
func NormalizeQueueKey(raw, agent string) string {
	s := collapseWhitespace(strings.ToLower(strings.TrimSpace(raw)))

	if nopOracleAgents[strings.ToLower(strings.TrimSpace(agent))] {
		return "default/default"
	}

	if s == "" {
		return "default/default"
	}

	if knownProviderAliases[s] {
		return "default"
	}

	if provider, model, ok := strings.Cut(strings.ToLower(raw), "/"); ok {
		return collapseWhitespace(provider) + "/" + collapseWhitespace(model)
	}

	// Bare model string with no "/": infer a provider prefix from known
	// aliases by longest-prefix match, falling back to "default".
	for prefix, provider := range modelProviderAliases {
		if strings.HasPrefix(s, prefix) {
			return provider + "/" + s
		}
	}
	return "default/" + s
}

// ProviderLabel returns the reporting label stored on Trial.Provider for a
// raw model string, using the provider-alias table carried over from the
// original config's _MODEL_PROVIDER_ALIASES. This is purely descriptive and
// never feeds back into queue routing.
func ProviderLabel(rawModel string) string {
	s := strings.ToLower(strings.TrimSpace(rawModel))
	if provider, _, ok := strings.Cut(s, "/"); ok {
		if label, known := modelProviderAliases[provider]; known {
			return label
		}
		return provider
	}
	for prefix, provider := range modelProviderAliases {
		if strings.HasPrefix(s, prefix) {
			return provider
		}
	}
	return "default"
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, "_")
}
