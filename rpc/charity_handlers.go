package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"charityledger/core/types"
	"charityledger/crypto"
)

func requireParams(params []json.RawMessage, n int) *RPCError {
	if len(params) != n {
		return invalidParams(fmt.Sprintf("expected %d parameter(s), got %d", n, len(params)), nil)
	}
	return nil
}

// parseUintParam accepts either a JSON number or a decimal string.
func parseUintParam(raw json.RawMessage, name string) (uint64, *RPCError) {
	var number uint64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if value, err := strconv.ParseUint(strings.TrimSpace(text), 10, 64); err == nil {
			return value, nil
		}
	}
	return 0, invalidParams(fmt.Sprintf("%s must be an unsigned integer", name), nil)
}

func parseAddressParam(raw json.RawMessage) ([20]byte, *RPCError) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return [20]byte{}, invalidParams("address must be a string", nil)
	}
	addr, err := crypto.ParseAddress(text)
	if err != nil {
		return [20]byte{}, invalidParams("invalid address", err.Error())
	}
	return addr, nil
}

func parseAmountParam(raw json.RawMessage) (*big.Int, *RPCError) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, invalidParams("amount must be a decimal string", nil)
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(text), 10)
	if !ok {
		return nil, invalidParams("amount must be a decimal string", text)
	}
	return amount, nil
}

func (s *Server) handleSendTransaction(r *http.Request, params []json.RawMessage) (interface{}, *RPCError) {
	if rpcErr := requireParams(params, 1); rpcErr != nil {
		return nil, rpcErr
	}
	var encoded string
	if err := json.Unmarshal(params[0], &encoded); err != nil {
		return nil, invalidParams("transaction must be a hex string", nil)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(encoded), "0x"))
	if err != nil {
		return nil, invalidParams("transaction must be a hex string", err.Error())
	}
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		return nil, invalidParams("invalid transaction encoding", err.Error())
	}
	// A disconnecting client must not abandon a payout half way through.
	ctx := context.WithoutCancel(r.Context())
	receipt, err := s.node.ApplyTransaction(ctx, tx)
	if err != nil {
		return nil, ledgerError(err)
	}
	return receiptResult(receipt), nil
}

func (s *Server) handleOwner(_ *http.Request, params []json.RawMessage) (interface{}, *RPCError) {
	if rpcErr := requireParams(params, 0); rpcErr != nil {
		return nil, rpcErr
	}
	owner, err := s.node.Owner()
	if err != nil {
		return nil, ledgerError(err)
	}
	return OwnerResult{
		Owner:   addressString(owner),
		Vault:   addressString(s.node.VaultAddress()),
		ChainID: s.node.ChainID(),
	}, nil
}

func (s *Server) handleGetCharity(_ *http.Request, params []json.RawMessage) (interface{}, *RPCError) {
	if rpcErr := requireParams(params, 1); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := parseUintParam(params[0], "charityId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	c, err := s.node.Charity(id)
	if err != nil {
		return nil, ledgerError(err)
	}
	return charityResult(c), nil
}

func (s *Server) handleGetDonationCount(_ *http.Request, params []json.RawMessage) (interface{}, *RPCError) {
	if rpcErr := requireParams(params, 1); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := parseUintParam(params[0], "charityId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	count, err := s.node.DonationCount(id)
	if err != nil {
		return nil, ledgerError(err)
	}
	return count, nil
}

func (s *Server) handleGetExpenseCount(_ *http.Request, params []json.RawMessage) (interface{}, *RPCError) {
	if rpcErr := requireParams(params, 1); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := parseUintParam(params[0], "charityId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	count, err := s.node.ExpenseCount(id)
	if err != nil {
		return nil, ledgerError(err)
	}
	return count, nil
}

func parseRecordRef(params []json.RawMessage) (uint64, uint64, *RPCError) {
	if rpcErr := requireParams(params, 2); rpcErr != nil {
		return 0, 0, rpcErr
	}
	id, rpcErr := parseUintParam(params[0], "charityId")
	if rpcErr != nil {
		return 0, 0, rpcErr
	}
	index, rpcErr := parseUintParam(params[1], "index")
	if rpcErr != nil {
		return 0, 0, rpcErr
	}
	return id, index, nil
}

func (s *Server) handleGetDonation(_ *http.Request, params []json.RawMessage) (interface{}, *RPCError) {
	id, index, rpcErr := parseRecordRef(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	donation, err := s.node.Donation(id, index)
	if err != nil {
		return nil, ledgerError(err)
	}
	return donationResult(index, donation), nil
}

func (s *Server) handleGetExpense(_ *http.Request, params []json.RawMessage) (interface{}, *RPCError) {
	id, index, rpcErr := parseRecordRef(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	expense, err := s.node.Expense(id, index)
	if err != nil {
		return nil, ledgerError(err)
	}
	return expenseResult(index, expense), nil
}

func (s *Server) handleGetDonorHistory(_ *http.Request, params []json.RawMessage) (interface{}, *RPCError) {
	if rpcErr := requireParams(params, 1); rpcErr != nil {
		return nil, rpcErr
	}
	donor, rpcErr := parseAddressParam(params[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	history, err := s.node.DonorHistory(donor)
	if err != nil {
		return nil, ledgerError(err)
	}
	if history == nil {
		history = []uint64{}
	}
	return history, nil
}

func (s *Server) handleGetPlatformStats(_ *http.Request, params []json.RawMessage) (interface{}, *RPCError) {
	if rpcErr := requireParams(params, 0); rpcErr != nil {
		return nil, rpcErr
	}
	stats, err := s.node.PlatformStats()
	if err != nil {
		return nil, ledgerError(err)
	}
	return statsResult(stats), nil
}

func (s *Server) handleGetAccount(_ *http.Request, params []json.RawMessage) (interface{}, *RPCError) {
	if rpcErr := requireParams(params, 1); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddressParam(params[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	account, err := s.node.GetAccount(addr)
	if err != nil {
		return nil, ledgerError(err)
	}
	return accountResult(addr, account), nil
}

func (s *Server) handleFundAccount(_ *http.Request, params []json.RawMessage) (interface{}, *RPCError) {
	if rpcErr := requireParams(params, 2); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddressParam(params[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmountParam(params[1])
	if rpcErr != nil {
		return nil, rpcErr
	}
	account, err := s.node.FundAccount(addr, amount)
	if err != nil {
		return nil, ledgerError(err)
	}
	return accountResult(addr, account), nil
}
