package model

// TxStatus is the execution outcome taken from a receipt.
type TxStatus string

const (
	TxStatusSuccess TxStatus = "success"
	TxStatusFailed  TxStatus = "failed"
)

// ContractTransactionRecord describes a mined transaction sent to a tracked contract.
type ContractTransactionRecord struct {
	Hash         string         `json:"hash"`
	From         string         `json:"from"`
	To           string         `json:"to"`
	ContractName string         `json:"contractName"`
	BlockNumber  uint64         `json:"blockNumber"`
	GasUsed      uint64         `json:"gasUsed"`
	Status       TxStatus       `json:"status"`
	Timestamp    uint64         `json:"timestamp"`
	Events       []DecodedEvent `json:"events"`
}
