package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"charityledger/core/types"
	"charityledger/crypto"
)

// txFlags are shared by every signing command.
type txFlags struct {
	keyFile string
	chainID uint64
	nonce   string
}

func (f *txFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.keyFile, "key", defaultKeyFile, "signing key file (raw key or keystore)")
	fs.Uint64Var(&f.chainID, "chain-id", 0, "chain id to sign for (fetched from the node when 0)")
	fs.StringVar(&f.nonce, "nonce", "", "override the account nonce (fetched from the node when empty)")
}

func runRegister(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common txFlags
	common.register(fs)
	var name, description, payout string
	fs.StringVar(&name, "name", "", "charity name")
	fs.StringVar(&description, "description", "", "charity description")
	fs.StringVar(&payout, "payout", "", "bech32 payout address")
	if !parseFlags(fs, args) {
		return 1
	}
	if strings.TrimSpace(name) == "" {
		fmt.Fprintln(stderr, "Error: --name is required")
		return 1
	}
	payoutAddr, err := crypto.ParseAddress(strings.TrimSpace(payout))
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid --payout: %v\n", err)
		return 1
	}
	payload := types.RegisterCharityPayload{Name: name, Description: description, Payout: payoutAddr}
	return signAndSend(common, types.TxTypeRegisterCharity, nil, payload, stdout, stderr)
}

func runDonate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("donate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common txFlags
	common.register(fs)
	var charityID, amount, message string
	fs.StringVar(&charityID, "charity", "", "charity id")
	fs.StringVar(&amount, "amount", "", "amount to donate")
	fs.StringVar(&message, "message", "", "optional donor message")
	if !parseFlags(fs, args) {
		return 1
	}
	id, err := parseRequiredUint("--charity", charityID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	value, err := parseAmount(amount)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return signAndSend(common, types.TxTypeDonate, value, types.DonatePayload{CharityID: id, Message: message}, stdout, stderr)
}

func runDistribute(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("distribute", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common txFlags
	common.register(fs)
	var charityID, amount, description, category string
	fs.StringVar(&charityID, "charity", "", "charity id")
	fs.StringVar(&amount, "amount", "", "amount to disburse")
	fs.StringVar(&description, "description", "", "what the funds pay for")
	fs.StringVar(&category, "category", "", "expense category")
	if !parseFlags(fs, args) {
		return 1
	}
	id, err := parseRequiredUint("--charity", charityID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	value, err := parseAmount(amount)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	payload := types.DistributeFundsPayload{CharityID: id, Amount: value, Description: description, Category: category}
	return signAndSend(common, types.TxTypeDistributeFunds, nil, payload, stdout, stderr)
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common txFlags
	common.register(fs)
	var charityID, index string
	fs.StringVar(&charityID, "charity", "", "charity id")
	fs.StringVar(&index, "index", "", "expense index")
	if !parseFlags(fs, args) {
		return 1
	}
	id, err := parseRequiredUint("--charity", charityID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	idx, err := parseRequiredUint("--index", index)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return signAndSend(common, types.TxTypeVerifyExpense, nil, types.ExpenseRefPayload{CharityID: id, Index: idx}, stdout, stderr)
}

func runToggle(action string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(action, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common txFlags
	common.register(fs)
	var charityID string
	fs.StringVar(&charityID, "charity", "", "charity id")
	if !parseFlags(fs, args) {
		return 1
	}
	id, err := parseRequiredUint("--charity", charityID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	txType := types.TxTypeDeactivateCharity
	if action == "reactivate" {
		txType = types.TxTypeReactivateCharity
	}
	return signAndSend(common, txType, nil, types.CharityRefPayload{CharityID: id}, stdout, stderr)
}

// signAndSend fills in the chain id and nonce from the node when they were not
// given, signs the transaction and submits it.
func signAndSend(common txFlags, txType types.TxType, value *big.Int, payload interface{}, stdout, stderr io.Writer) int {
	key, err := loadPrivateKey(common.keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading private key: %v\n", err)
		return 1
	}
	sender := key.PubKey().Address().String()

	chainID := common.chainID
	if chainID == 0 {
		if chainID, err = fetchChainID(); err != nil {
			fmt.Fprintf(stderr, "Error fetching chain id: %v\n", err)
			return 1
		}
	}
	var nonce uint64
	if strings.TrimSpace(common.nonce) != "" {
		if nonce, err = parseRequiredUint("--nonce", common.nonce); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	} else if nonce, err = fetchNonce(sender); err != nil {
		fmt.Fprintf(stderr, "Error fetching account details: %v\n", err)
		return 1
	}

	tx, err := types.NewTransaction(chainID, txType, nonce, value, payload)
	if err != nil {
		fmt.Fprintf(stderr, "Error building transaction: %v\n", err)
		return 1
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		fmt.Fprintf(stderr, "Error signing transaction: %v\n", err)
		return 1
	}
	raw, err := types.EncodeTransaction(tx)
	if err != nil {
		fmt.Fprintf(stderr, "Error encoding transaction: %v\n", err)
		return 1
	}
	return callAndPrint("charity_sendTransaction", []interface{}{"0x" + hex.EncodeToString(raw)}, false, stdout, stderr)
}

func fetchChainID() (uint64, error) {
	result, rpcErr, err := rpcCall("charity_owner", nil, false)
	if err != nil {
		return 0, err
	}
	if rpcErr != nil {
		return 0, fmt.Errorf("RPC error %d: %s", rpcErr.Code, rpcErr.Message)
	}
	var out struct {
		ChainID uint64 `json:"chainId"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return 0, fmt.Errorf("decode owner result: %w", err)
	}
	return out.ChainID, nil
}

func fetchNonce(addr string) (uint64, error) {
	result, rpcErr, err := rpcCall("charity_getAccount", []interface{}{addr}, false)
	if err != nil {
		return 0, err
	}
	if rpcErr != nil {
		return 0, fmt.Errorf("RPC error %d: %s", rpcErr.Code, rpcErr.Message)
	}
	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return 0, fmt.Errorf("decode account result: %w", err)
	}
	return out.Nonce, nil
}

func parseFlags(fs *flag.FlagSet, args []string) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(fs.Output(), "Error: unexpected positional arguments")
		return false
	}
	return true
}

func parseRequiredUint(name, value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	out, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, value)
	}
	return out, nil
}

// parseAmount accepts a positive decimal integer; underscores may group digits.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return nil, errors.New("--amount is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, errors.New("amount must be positive")
	}
	return amount, nil
}
