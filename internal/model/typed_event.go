package model

// DecodedEvent is a contract event log decoded against a tracked schema.
// Field values are always rendered as strings so that uint256 values survive
// JSON encoding without loss.
type DecodedEvent struct {
	ContractName    string            `json:"contractName"`
	EventName       string            `json:"eventName"`
	BlockNumber     uint64            `json:"blockNumber"`
	TransactionHash string            `json:"transactionHash"`
	LogIndex        uint              `json:"logIndex"`
	Fields          map[string]string `json:"fields"`
}
