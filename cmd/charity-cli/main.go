package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	rpcTokenEnv     = "CHARITY_RPC_TOKEN"
	keystorePassEnv = "CHARITY_KEYSTORE_PASS"
)

var (
	rpcEndpoint  = defaultRPCEndpoint() // Defaults to localhost, can be overridden via RPC_URL or --rpc flag
	rpcAuthToken = os.Getenv(rpcTokenEnv)
	rpcClient    = &http.Client{Timeout: 30 * time.Second}

	// rpcCall is swapped out by tests.
	rpcCall = callRPC
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	rest := args[1:]
	switch args[0] {
	case "generate-key":
		return runGenerateKey(rest, stdout, stderr)
	case "address":
		return runAddress(rest, stdout, stderr)
	case "account":
		return runAccount(rest, stdout, stderr)
	case "owner":
		return runOwner(rest, stdout, stderr)
	case "fund":
		return runFund(rest, stdout, stderr)
	case "register":
		return runRegister(rest, stdout, stderr)
	case "donate":
		return runDonate(rest, stdout, stderr)
	case "distribute":
		return runDistribute(rest, stdout, stderr)
	case "verify":
		return runVerify(rest, stdout, stderr)
	case "deactivate":
		return runToggle("deactivate", rest, stdout, stderr)
	case "reactivate":
		return runToggle("reactivate", rest, stdout, stderr)
	case "charity":
		return runCharity(rest, stdout, stderr)
	case "donation":
		return runRecord("donation", rest, stdout, stderr)
	case "expense":
		return runRecord("expense", rest, stdout, stderr)
	case "donor-history":
		return runDonorHistory(rest, stdout, stderr)
	case "stats":
		return runStats(rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if requireAuth {
		token := strings.TrimSpace(rpcAuthToken)
		if token == "" {
			return nil, fmt.Errorf("privileged RPC call requires %s to be set", rpcTokenEnv)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := rpcClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}

func callRPC(method string, params []interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	if params == nil {
		params = []interface{}{}
	}
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method, "params": params}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}
	resp, err := doRPCRequest(body, requireAuth)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode response from node (HTTP %d)", resp.StatusCode)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

// callAndPrint performs a call and writes the indented result. It returns the
// process exit code.
func callAndPrint(method string, params []interface{}, requireAuth bool, stdout, stderr io.Writer) int {
	result, rpcErr, err := rpcCall(method, params, requireAuth)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func handleRPCError(w io.Writer, err *rpcError) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC error %d: %s\n", err.Code, err.Message)
	if len(err.Data) > 0 && string(err.Data) != "null" {
		fmt.Fprintf(w, "  detail: %s\n", string(err.Data))
	}
	return 1
}

func handleRPCCallError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		fmt.Fprintln(w, string(result))
		return
	}
	fmt.Fprintln(w, buf.String())
}

func usage() string {
	return strings.TrimSpace(`Usage:
  charity-cli [--rpc URL] <command> [flags]

Keys:
  generate-key   Create a signing key (--out, --keystore)
  address        Print the address of a signing key (--key)

Transactions (signed with --key):
  register       Register a charity (owner only)
  donate         Donate to a charity
  distribute     Spend escrowed funds from a charity (payout address only)
  verify         Mark an expense as verified (owner only)
  deactivate     Stop a charity from accepting donations (owner only)
  reactivate     Allow a charity to accept donations again (owner only)

Queries:
  account        Balance and nonce of an address
  owner          Ledger owner, vault and chain id
  charity        Charity record by id
  donation       Donation record (--charity, --index) or count (--charity)
  expense        Expense record (--charity, --index) or count (--charity)
  donor-history  Donation references for a donor
  stats          Platform totals

Operator:
  fund           Credit an account (requires CHARITY_RPC_TOKEN)

Environment:
  RPC_URL                 default RPC endpoint
  CHARITY_RPC_TOKEN       bearer token for operator calls
  CHARITY_KEYSTORE_PASS   passphrase for keystore signing keys`)
}
