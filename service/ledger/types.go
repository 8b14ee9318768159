package ledger

import (
	"encoding/json"
)

// CoinStoreType is the resource holding an account's native coin balance.
const CoinStoreType = "0x1::coin::CoinStore<0x1::aptos_coin::AptosCoin>"

// EntryFunctionPayloadType tags payloads that call a program entry function.
const EntryFunctionPayloadType = "entry_function_payload"

// Resource is a typed blob of state stored under an account.
type Resource struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ViewRequest invokes a read-only program function.
type ViewRequest struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

// Payload is a chain-ready description of a state-changing call. It is what
// the wallet signs; the client never sees key material.
type Payload struct {
	Type          string   `json:"type"`
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

// TransactionHandle identifies a broadcast transaction.
type TransactionHandle struct {
	Hash string `json:"hash"`
}

// Outcome is the committed result of a transaction.
type Outcome struct {
	Hash     string `json:"hash"`
	Success  bool   `json:"success"`
	VMStatus string `json:"vm_status,omitempty"`
	Version  string `json:"version,omitempty"`
}

// FailureReason returns the VM status of a failed transaction, or "" on success.
func (o Outcome) FailureReason() string {
	if o.Success {
		return ""
	}
	if o.VMStatus == "" {
		return "transaction failed"
	}
	return o.VMStatus
}

// transactionResponse is the node's view of a transaction by hash.
type transactionResponse struct {
	Type     string `json:"type"`
	Hash     string `json:"hash"`
	Success  bool   `json:"success"`
	VMStatus string `json:"vm_status"`
	Version  string `json:"version"`
}

const pendingTransactionType = "pending_transaction"

// MarketplaceModule is the name of the marketplace program module.
const MarketplaceModule = "NFTMarketplace"

// FunctionID builds a fully qualified "<address>::<module>::<name>" identifier,
// used for entry functions, view functions and struct types alike.
func FunctionID(address, module, name string) string {
	return address + "::" + module + "::" + name
}
