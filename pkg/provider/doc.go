// Package provider defines the interface plotwise uses to talk to a
// language model. Each adapter (anthropic, openaicompat) handles its own
// wire protocol and maps backend failures to *api.APIError values, so the
// rest of the system never sees HTTP details.
package provider
