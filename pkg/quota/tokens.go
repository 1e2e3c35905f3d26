package quota

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer families for known model lines. Models outside these families
// use the length/4 heuristic.
const (
	encodingO200k   = "o200k_base"
	encodingCl100k  = "cl100k_base"
	encodingP50k    = "p50k_base"
	encodingUnknown = ""
)

type tokenEstimator struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

func newTokenEstimator() *tokenEstimator {
	return &tokenEstimator{
		encodings: make(map[string]*tiktoken.Tiktoken),
	}
}

func encodingForModel(modelID string) string {
	model := strings.ToLower(modelID)
	switch {
	case model == "":
		return encodingUnknown
	case strings.Contains(model, "gpt-4o"),
		strings.Contains(model, "gpt-5"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return encodingO200k
	case strings.Contains(model, "gpt-4"),
		strings.Contains(model, "gpt-3.5"),
		strings.Contains(model, "embedding"):
		return encodingCl100k
	case strings.Contains(model, "davinci"),
		strings.Contains(model, "curie"),
		strings.Contains(model, "babbage"),
		strings.Contains(model, "code-"):
		return encodingP50k
	default:
		return encodingUnknown
	}
}

func (e *tokenEstimator) estimate(text, modelID string) int {
	name := encodingForModel(modelID)
	if name == encodingUnknown {
		return heuristicTokens(text)
	}

	enc, err := e.encoding(name)
	if err != nil {
		return heuristicTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (e *tokenEstimator) encoding(name string) (*tiktoken.Tiktoken, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encodings[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, err
	}
	e.encodings[name] = enc
	return enc, nil
}

func heuristicTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}
