package snapshot

import (
	"sync/atomic"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

// Holder is the single publication point of the live bundle. Readers call
// Current once per request and keep using that bundle even if a newer one is
// published meanwhile.
type Holder struct {
	current atomic.Pointer[Bundle]
}

func NewHolder() *Holder {
	return &Holder{}
}

// Publish swaps in b and returns the bundle it replaced, if any
func (h *Holder) Publish(b *Bundle) *Bundle {
	return h.current.Swap(b)
}

// Current returns the live bundle or ErrCorpusUnavailable before the first Publish
func (h *Holder) Current() (*Bundle, error) {
	b := h.current.Load()
	if b == nil {
		return nil, domain.ErrCorpusUnavailable
	}
	return b, nil
}

func (h *Holder) Ready() bool {
	return h.current.Load() != nil
}
