package protocol

import "github.com/pkg/errors"

// BindingTuple carries the transaction parameters a partial signature is bound
// to. The ordered key and commitment vectors complete the tuple but travel
// separately, since the key-share service re-derives them from the round-1
// commitment vector it is handed.
type BindingTuple struct {
	Amount          float64 `json:"amount"`
	Recipient       string  `json:"recipient"`
	Memo            string  `json:"memo,omitempty"`
	RecentBlockhash string  `json:"recent_blockhash"`
}

func (t BindingTuple) Validate() error {
	if t.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if t.Recipient == "" {
		return errors.New("recipient is required")
	}
	if t.RecentBlockhash == "" {
		return errors.New("recent blockhash is required")
	}
	return nil
}
