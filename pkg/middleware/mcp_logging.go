package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxLoggedValueLen caps logged argument values. Problem descriptions
// pasted from tickets can run to pages.
const maxLoggedValueLen = 200

// MCPRequestLogger returns middleware that logs MCP tool traffic. It
// reads each JSON-RPC request to name the tool being called and checks
// the response for a protocol-level error. A nil logger disables it.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				logger.Error("Failed to read MCP request body", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var req rpcRequest
			if err := json.Unmarshal(body, &req); err != nil {
				// Session handshakes and pings are not always parseable
				// as tool calls; log what we can and move on
				logger.Debug("Failed to parse MCP request JSON", zap.Error(err))
			}

			logger.Debug("MCP request",
				zap.String("method", req.Method),
				zap.String("tool", req.Params.Name),
				zap.Any("arguments", redactArguments(req.Params.Arguments)),
			)

			rec := &bodyRecorder{ResponseWriter: w, body: &bytes.Buffer{}}
			start := time.Now()

			next.ServeHTTP(rec, r)

			var resp rpcResponse
			if err := json.Unmarshal(rec.body.Bytes(), &resp); err != nil {
				logger.Debug("Failed to parse MCP response JSON", zap.Error(err))
				return
			}

			if resp.Error != nil {
				logger.Debug("MCP response error",
					zap.String("tool", req.Params.Name),
					zap.Int("error_code", resp.Error.Code),
					zap.String("error_message", resp.Error.Message),
					zap.Duration("duration", time.Since(start)),
				)
				return
			}

			logger.Debug("MCP response success",
				zap.String("tool", req.Params.Name),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// rpcRequest is the slice of a JSON-RPC request we log from tools/call.
type rpcRequest struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

// rpcResponse is the slice of a JSON-RPC response we inspect.
type rpcResponse struct {
	Error *rpcError `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// bodyRecorder tees the response body so it can be parsed after the
// handler runs.
type bodyRecorder struct {
	http.ResponseWriter
	body *bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// redactArguments hides anything credential-shaped and truncates long
// values before they reach the log.
func redactArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		if sensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if s, ok := v.(string); ok && len(s) > maxLoggedValueLen {
			out[k] = s[:maxLoggedValueLen] + "..."
			continue
		}
		out[k] = v
	}
	return out
}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range []string{"password", "secret", "token", "key", "credential"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
