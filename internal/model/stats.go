package model

// Stats is the running view of chain activity. Values handed out by the
// aggregator are copies.
type Stats struct {
	TotalBlocks          uint64 `json:"totalBlocks"`
	TotalTransactions    uint64 `json:"totalTransactions"`
	TotalIdentities      uint64 `json:"totalIdentities"`
	TotalVaccineRecords  uint64 `json:"totalVaccineRecords"`
	LastBlockNumber      uint64 `json:"lastBlockNumber"`
	LastBlockTime        uint64 `json:"lastBlockTime"`
	ConnectedSubscribers int    `json:"connectedSubscribers"`
}

// Counter names a domain counter that events or refresh sources feed.
type Counter string

const (
	CounterNone           Counter = ""
	CounterIdentities     Counter = "identities"
	CounterVaccineRecords Counter = "vaccine_records"
)

// Valid reports whether c is a known counter.
func (c Counter) Valid() bool {
	switch c {
	case CounterNone, CounterIdentities, CounterVaccineRecords:
		return true
	default:
		return false
	}
}
