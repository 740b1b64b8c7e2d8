package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"time"

	"github.com/ductor/ductor/internal/log"
)

// DiscoveryTimeout bounds one codex app-server query.
const DiscoveryTimeout = 30 * time.Second

// ModelInfo is a model discovered from the Codex app-server.
type ModelInfo struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"display_name"`
	Description      string   `json:"description"`
	SupportedEfforts []string `json:"supported_efforts"`
	DefaultEffort    string   `json:"default_effort"`
	IsDefault        bool     `json:"is_default"`
}

// SupportsEffort reports whether the model accepts the reasoning effort.
func (m ModelInfo) SupportsEffort(effort string) bool {
	for _, e := range m.SupportedEfforts {
		if e == effort {
			return true
		}
	}
	return false
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int    `json:"id"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	ID     int `json:"id"`
	Result struct {
		Data []rpcModelEntry `json:"data"`
	} `json:"result"`
}

// rpcModelEntry mirrors one model/list entry. The app-server speaks
// camelCase, unlike the CLI stream.
type rpcModelEntry struct {
	ID                        string `json:"id"`
	DisplayName               string `json:"displayName"`
	Description               string `json:"description"`
	SupportedReasoningEfforts []struct {
		ReasoningEffort string `json:"reasoningEffort"`
	} `json:"supportedReasoningEfforts"`
	DefaultReasoningEffort string `json:"defaultReasoningEffort"`
	IsDefault              bool   `json:"isDefault"`
}

func discoveryInput() string {
	initMsg, _ := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "initialize",
		ID:      1,
		Params: map[string]any{
			"clientInfo": map[string]string{"name": "ductor", "version": "1.0"},
		},
	})
	listMsg, _ := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "model/list",
		ID:      2,
		Params:  struct{}{},
	})
	return string(initMsg) + "\n" + string(listMsg) + "\n"
}

// DiscoverModels queries `codex app-server` for available models over
// JSON-RPC on stdin/stdout.
//
// Returns nil on timeout, missing CLI, or parse error. All failures are
// logged and swallowed, never raised.
func DiscoverModels(ctx context.Context) []ModelInfo {
	path, err := findExecutable()
	if err != nil {
		log.Debug(log.CatCLI, "codex not found, skipping model discovery")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "app-server")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Warn(log.CatCLI, "codex app-server stdin pipe", "error", err)
		return nil
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Warn(log.CatCLI, "codex app-server stdout pipe", "error", err)
		return nil
	}
	if err := cmd.Start(); err != nil {
		log.Warn(log.CatCLI, "codex app-server spawn failed", "error", err)
		return nil
	}
	defer func() {
		stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	if _, err := io.WriteString(stdin, discoveryInput()); err != nil {
		log.Warn(log.CatCLI, "codex app-server write failed", "error", err)
		return nil
	}
	// Keep stdin open while reading. Closing it early can terminate
	// app-server before the model/list response is sent.

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.ID != 2 {
			continue
		}
		models := parseModelList(resp.Result.Data)
		log.Info(log.CatCLI, "codex discovery finished", "models", len(models))
		return models
	}

	if ctx.Err() != nil {
		log.Warn(log.CatCLI, "codex discovery timed out", "after", DiscoveryTimeout)
	} else {
		log.Warn(log.CatCLI, "no model/list response from codex app-server")
	}
	return nil
}

func parseModelList(entries []rpcModelEntry) []ModelInfo {
	models := make([]ModelInfo, 0, len(entries))
	for _, entry := range entries {
		efforts := make([]string, 0, len(entry.SupportedReasoningEfforts))
		for _, e := range entry.SupportedReasoningEfforts {
			if e.ReasoningEffort != "" {
				efforts = append(efforts, e.ReasoningEffort)
			}
		}
		if len(efforts) == 0 {
			efforts = []string{"medium"}
		}
		defaultEffort := entry.DefaultReasoningEffort
		if defaultEffort == "" {
			defaultEffort = "medium"
		}
		models = append(models, ModelInfo{
			ID:               entry.ID,
			DisplayName:      entry.DisplayName,
			Description:      entry.Description,
			SupportedEfforts: efforts,
			DefaultEffort:    defaultEffort,
			IsDefault:        entry.IsDefault,
		})
	}
	return models
}
