package contextmgr

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/swarmkit/swarmkit/model"
)

// Estimator provides a provisional token count for a conversation before an
// LLM response returns its authoritative usage figures, grounded on the
// per-model encoding cache kadirpekel-hector's token counter keeps.
type Estimator struct {
	mu       sync.RWMutex
	encoding *tiktoken.Tiktoken
}

var (
	encodingCacheMu sync.RWMutex
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
)

// NewEstimator returns an Estimator for modelName, falling back to the
// cl100k_base encoding when the model is not recognized by tiktoken-go.
func NewEstimator(modelName string) (*Estimator, error) {
	encodingCacheMu.RLock()
	cached, ok := encodingCache[modelName]
	encodingCacheMu.RUnlock()
	if ok {
		return &Estimator{encoding: cached}, nil
	}

	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	encodingCacheMu.Lock()
	encodingCache[modelName] = enc
	encodingCacheMu.Unlock()
	return &Estimator{encoding: enc}, nil
}

// CountText returns the token count of a single string.
func (e *Estimator) CountText(text string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.encoding.Encode(text, nil, nil))
}

// tokensPerMessage is the per-message role/delimiter overhead tiktoken's
// chat format adds on top of role+content tokens.
const tokensPerMessage = 3

// CountConversation estimates the total token count of a conversation,
// including per-message role overhead.
func (e *Estimator) CountConversation(conv *model.Conversation) int {
	if conv == nil {
		return 0
	}
	total := 0
	for _, m := range conv.Messages {
		total += tokensPerMessage
		total += e.CountText(string(m.Role))
		total += e.CountText(m.Text)
	}
	return total
}
