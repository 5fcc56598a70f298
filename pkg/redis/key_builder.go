package redis

import "fmt"

// Document key patterns. {root} is the first two segments of a document path,
// e.g. "trips/abc" or "codes/ABC234".
const (
	KeyDocument        = "doc:%s"
	KeyDocumentChannel = "doc:%s:changes"
)

// KeyBuilder provides environment-aware Redis key building functionality
type KeyBuilder struct {
	prefix string // Environment prefix (staging/prod)
}

// NewKeyBuilder creates a new key builder with environment-based prefix
func NewKeyBuilder(environment string) *KeyBuilder {
	prefix := "prod"
	switch environment {
	case "development", "staging":
		prefix = "staging"
	case "test":
		prefix = "test"
	}

	return &KeyBuilder{
		prefix: prefix,
	}
}

// BuildKey constructs a Redis key with the environment prefix
func (kb *KeyBuilder) BuildKey(key string) string {
	return fmt.Sprintf("%s:%s", kb.prefix, key)
}

// GetPrefix returns the current environment prefix
func (kb *KeyBuilder) GetPrefix() string {
	return kb.prefix
}

// KeyDocument is where the JSON document of a root lives.
func (kb *KeyBuilder) KeyDocument(root string) string {
	return kb.BuildKey(fmt.Sprintf(KeyDocument, root))
}

// KeyDocumentChannel is the pub/sub channel announcing changes to a root.
func (kb *KeyBuilder) KeyDocumentChannel(root string) string {
	return kb.BuildKey(fmt.Sprintf(KeyDocumentChannel, root))
}
