package model

// BlockSnapshot is the per-block fact broadcast as a newBlock message.
type BlockSnapshot struct {
	Number           uint64 `json:"number"`
	Hash             string `json:"hash"`
	Timestamp        uint64 `json:"timestamp"`
	TransactionCount int    `json:"transactionCount"`
	GasUsed          uint64 `json:"gasUsed"`
	GasLimit         uint64 `json:"gasLimit"`
}
