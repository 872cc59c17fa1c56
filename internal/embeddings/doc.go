// Package embeddings turns element content into vectors.
//
// Providers wrap a concrete model: langchaingo clients for OpenAI-compatible
// and Ollama endpoints, FastEmbed for local ONNX models (cgo builds only),
// and a deterministic mock for offline runs. CachingProvider layers the
// content-addressed cache over any of them so repeated runs never embed the
// same text twice.
package embeddings
