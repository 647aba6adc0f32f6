// Package chain reads market state from the prediction-market ledger and
// submits settlements to the oracle contract.
package chain

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ledgerABIJSON covers the read-only subset of the ledger contract.
const ledgerABIJSON = `[
  {"type":"function","name":"nextMarketId","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"markets","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],
   "outputs":[
     {"name":"id","type":"uint256"},
     {"name":"question","type":"string"},
     {"name":"bettingDeadline","type":"uint256"},
     {"name":"revealDeadline","type":"uint256"},
     {"name":"revealed","type":"bool"},
     {"name":"finalOutcomeId","type":"uint256"},
     {"name":"settled","type":"bool"},
     {"name":"totalPool","type":"uint256"}]},
  {"type":"function","name":"getMarketOutcomes","stateMutability":"view",
   "inputs":[{"name":"marketId","type":"uint256"}],
   "outputs":[{"name":"","type":"string[]"}]}
]`

// oracleABIJSON covers the settlement sink.
const oracleABIJSON = `[
  {"type":"function","name":"receiveSettlement","stateMutability":"nonpayable",
   "inputs":[
     {"name":"marketId","type":"uint256"},
     {"name":"outcome","type":"string"},
     {"name":"proof","type":"bytes"}],
   "outputs":[]}
]`

var (
	abiOnce   sync.Once
	ledgerABI abi.ABI
	oracleABI abi.ABI
	abiErr    error
)

// parsedABIs parses both contract ABIs once.
func parsedABIs() (abi.ABI, abi.ABI, error) {
	abiOnce.Do(func() {
		ledgerABI, abiErr = abi.JSON(strings.NewReader(ledgerABIJSON))
		if abiErr != nil {
			abiErr = fmt.Errorf("chain: parse ledger abi: %w", abiErr)
			return
		}
		oracleABI, abiErr = abi.JSON(strings.NewReader(oracleABIJSON))
		if abiErr != nil {
			abiErr = fmt.Errorf("chain: parse oracle abi: %w", abiErr)
		}
	})
	return ledgerABI, oracleABI, abiErr
}

// LedgerABI returns the parsed ledger ABI.
func LedgerABI() (abi.ABI, error) {
	l, _, err := parsedABIs()
	return l, err
}

// OracleABI returns the parsed oracle ABI.
func OracleABI() (abi.ABI, error) {
	_, o, err := parsedABIs()
	return o, err
}
