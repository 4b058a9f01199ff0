package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"novacv/internal/domain/ports/adapter"
)

const fallbackEncoding = "cl100k_base"

var (
	encMu    sync.Mutex
	encCache = map[string]*tiktoken.Tiktoken{}
)

func encodingFor(model string) *tiktoken.Tiktoken {
	encMu.Lock()
	defer encMu.Unlock()
	if enc, ok := encCache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		enc = nil
	}
	encCache[model] = enc
	return enc
}

// EstimateTokens counts prompt tokens with the model's BPE. When no encoding
// can be loaded it falls back to four bytes per token.
func EstimateTokens(model string, messages []adapter.Message) int {
	enc := encodingFor(model)
	n := 0
	for _, m := range messages {
		// role and separators
		n += 4
		if enc == nil {
			n += (len(m.Content) + 3) / 4
			continue
		}
		n += len(enc.Encode(m.Content, nil, nil))
	}
	return n + 2
}
