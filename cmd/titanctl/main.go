// Command titanctl is an operator CLI for a running titand instance: add
// and recall memories, inspect layer stats, and list connected A2A agents
// over titand's JSON-RPC admin endpoint.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pterm/pterm"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int         `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func call(rpcURL, method string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(rpcURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("%s: %s (code %d)", method, out.Error.Message, out.Error.Code)
	}
	return out.Result, nil
}

func printJSON(result json.RawMessage) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return
	}
	fmt.Println(pretty.String())
}

func main() {
	addr := flag.String("addr", "http://localhost:9876", "titand base address")
	flag.Parse()

	rpcURL := *addr + "/rpc"

	args := flag.Args()
	if len(args) == 0 {
		pterm.Error.Println("usage: titanctl [-addr url] <add|recall|delete|stats|summarize|agents> [args...]")
		os.Exit(1)
	}

	var (
		result json.RawMessage
		err    error
	)

	switch args[0] {
	case "add":
		if len(args) < 2 {
			pterm.Error.Println("usage: titanctl add <content>")
			os.Exit(1)
		}
		result, err = call(rpcURL, "memory.add", map[string]interface{}{"content": args[1]})
		if err == nil {
			pterm.Success.Println("memory added")
		}

	case "recall":
		if len(args) < 2 {
			pterm.Error.Println("usage: titanctl recall <query>")
			os.Exit(1)
		}
		result, err = call(rpcURL, "memory.recall", map[string]interface{}{"query": args[1], "limit": 10})

	case "delete":
		if len(args) < 2 {
			pterm.Error.Println("usage: titanctl delete <id>")
			os.Exit(1)
		}
		result, err = call(rpcURL, "memory.delete", map[string]interface{}{"id": args[1]})
		if err == nil {
			pterm.Success.Println("delete requested")
		}

	case "stats":
		result, err = call(rpcURL, "memory.stats", struct{}{})

	case "summarize":
		date := ""
		if len(args) >= 2 {
			date = args[1]
		}
		result, err = call(rpcURL, "memory.summarizeDay", map[string]interface{}{"date": date})

	case "agents":
		result, err = call(rpcURL, "agents.list", struct{}{})

	default:
		pterm.Error.Printf("unknown command: %s\n", args[0])
		os.Exit(1)
	}

	if err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
	if result != nil {
		printJSON(result)
	}
}
