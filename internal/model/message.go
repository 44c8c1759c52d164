package model

// MessageType tags a push message.
type MessageType string

const (
	MessageNewBlock            MessageType = "newBlock"
	MessageContractTransaction MessageType = "contractTransaction"
	MessageContractEvent       MessageType = "contractEvent"
	MessageBlockchainStats     MessageType = "blockchainStats"
)

// Message is a tagged payload delivered to subscribers. Data holds one of
// BlockSnapshot, ContractTransactionRecord, DecodedEvent or Stats.
type Message struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data"`
}
