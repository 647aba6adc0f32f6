package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Dial connects to the RPC endpoint and checks that it serves wantChainID.
// The returned client satisfies both ethereum.ContractCaller and TxBackend.
func Dial(ctx context.Context, rpcURL string, wantChainID int64) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}

	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if id.Int64() != wantChainID {
		client.Close()
		return nil, fmt.Errorf("chain: endpoint serves chain %s, configured %d", id, wantChainID)
	}
	return client, nil
}
