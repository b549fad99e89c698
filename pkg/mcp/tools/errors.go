package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrorResponse is the structured error payload tool handlers hand back to
// the calling agent. Returning it as a tool result rather than a protocol
// error keeps the code and message visible to the model so it can correct
// the call.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorResult builds an error tool result for failures the agent can act
// on, such as a missing parameter or an unknown article ID. System failures
// (database down, model unreachable) should stay Go errors so the server
// reports them as protocol errors.
//
// Example:
//
//	if problem == "" {
//	    return NewErrorResult("invalid_parameters", "parameter 'problem' cannot be empty"), nil
//	}
func NewErrorResult(code, message string) *mcp.CallToolResult {
	payload, _ := json.Marshal(ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
	})
	result := mcp.NewToolResultText(string(payload))
	result.IsError = true
	return result
}
