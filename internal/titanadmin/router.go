// Package titanadmin exposes a JSON-RPC 2.0 admin surface over a
// titancore.Manager and the A2A coordination server, adapting the A2A
// rpc.Router to operator-facing memory/agent operations instead of the
// task-protocol methods it originally routed.
package titanadmin

import (
	"context"
	"encoding/json"

	"titan/internal/a2a/rpc"
	"titan/internal/a2a/server"
	"titan/internal/store"
	"titan/internal/titancore"
)

// NewRouter builds an rpc.Router wired to manager and a2aServer, exposing
// memory.add, memory.recall, memory.stats, memory.delete,
// memory.summarizeDay, and agents.list.
func NewRouter(manager *titancore.Manager, a2aServer *server.Server) *rpc.Router {
	r := rpc.NewRouter()
	r.Register("memory.add", handleAdd(manager))
	r.Register("memory.recall", handleRecall(manager))
	r.Register("memory.delete", handleDelete(manager))
	r.Register("memory.stats", handleStats(manager))
	r.Register("memory.summarizeDay", handleSummarizeDay(manager))
	r.Register("agents.list", handleAgentsList(a2aServer))
	return r
}

type addParams struct {
	Content  string         `json:"content"`
	Metadata store.Metadata `json:"metadata"`
}

func handleAdd(manager *titancore.Manager) rpc.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, *rpc.JSONRPCError) {
		var p addParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &rpc.JSONRPCError{Code: rpc.InvalidParamsCode, Message: "invalid memory.add params: " + err.Error()}
		}
		entry, err := manager.Add(ctx, p.Content, p.Metadata)
		if err != nil {
			return nil, &rpc.JSONRPCError{Code: rpc.InternalErrorCode, Message: err.Error()}
		}
		return entry, nil
	}
}

type recallParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func handleRecall(manager *titancore.Manager) rpc.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, *rpc.JSONRPCError) {
		var p recallParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &rpc.JSONRPCError{Code: rpc.InvalidParamsCode, Message: "invalid memory.recall params: " + err.Error()}
		}
		if p.Limit <= 0 {
			p.Limit = 10
		}
		result, err := manager.Recall(ctx, p.Query, titancore.RecallOptions{Limit: p.Limit})
		if err != nil {
			return nil, &rpc.JSONRPCError{Code: rpc.InternalErrorCode, Message: err.Error()}
		}
		return result, nil
	}
}

type deleteParams struct {
	ID string `json:"id"`
}

func handleDelete(manager *titancore.Manager) rpc.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, *rpc.JSONRPCError) {
		var p deleteParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &rpc.JSONRPCError{Code: rpc.InvalidParamsCode, Message: "invalid memory.delete params: " + err.Error()}
		}
		removed, err := manager.Delete(ctx, p.ID)
		if err != nil {
			return nil, &rpc.JSONRPCError{Code: rpc.InternalErrorCode, Message: err.Error()}
		}
		return map[string]bool{"removed": removed}, nil
	}
}

func handleStats(manager *titancore.Manager) rpc.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, *rpc.JSONRPCError) {
		stats, err := manager.GetStats(ctx)
		if err != nil {
			return nil, &rpc.JSONRPCError{Code: rpc.InternalErrorCode, Message: err.Error()}
		}
		return stats, nil
	}
}

type summarizeDayParams struct {
	Date string `json:"date"`
}

func handleSummarizeDay(manager *titancore.Manager) rpc.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, *rpc.JSONRPCError) {
		var p summarizeDayParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &rpc.JSONRPCError{Code: rpc.InvalidParamsCode, Message: "invalid memory.summarizeDay params: " + err.Error()}
		}
		summary, err := manager.SummarizeDay(ctx, p.Date)
		if err != nil {
			return nil, &rpc.JSONRPCError{Code: rpc.InternalErrorCode, Message: err.Error()}
		}
		return map[string]string{"date": p.Date, "summary": summary}, nil
	}
}

func handleAgentsList(a2aServer *server.Server) rpc.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, *rpc.JSONRPCError) {
		agents := a2aServer.Registry().List()
		summaries := make([]map[string]string, 0, len(agents))
		for _, a := range agents {
			summaries = append(summaries, map[string]string{"agentId": a.ID, "state": string(a.State)})
		}
		return summaries, nil
	}
}
