// Package ai implements the external classification client used as the
// final tier of the word classifier. It speaks an OpenRouter-compatible
// chat-completion API and normalizes the model's JSON payload into
// taxonomy codes.
package ai
