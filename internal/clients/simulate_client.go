package clients

// SimulateClient marks an offline session priced from the built-in table.
type SimulateClient struct{}

// NewSimulateClient creates a new simulate client.
func NewSimulateClient() *SimulateClient {
	return &SimulateClient{}
}
