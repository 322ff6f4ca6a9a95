package crm

import (
	"encoding/json"

	"github.com/roach88/docmerge/internal/fault"
)

// Status codes and messages reported by the server.
const (
	CodeOK                      = "RPM_PE_STATUS_OK"
	CodeTruncated               = "RPM_PE_QUERY_RESULT_TRUNCATED"
	CodeQueryFailed             = "RPM_PE_QUERY_FAILED"
	CodeOKUpsertInProgress      = "RPM_PE_QUERY_RESULT_OK_UPSERT_IN_PROGRESS"
	CodeTruncatedUpsertProgress = "RPM_PE_QUERY_RESULT_TRUNCATED_UPSERT_IN_PROGRESS"

	MessageOK       = "Okay"
	MessageTooLarge = "Error: Request Entity Too Large: head"
)

// Status is the PVStatus block of a response.
type Status struct {
	Code          string `json:"Code"`
	Message       string `json:"Message"`
	ScriptMessage string `json:"SCRIPT_ERROR_MSG,omitempty"`
	SessionID     string `json:"SessionId,omitempty"`
	ModelID       string `json:"ModelId,omitempty"`
	URL           string `json:"Url,omitempty"`
}

// Response is a decoded server reply. Body keeps the full PVResponse for
// callers that need operation-specific payloads.
type Response struct {
	Status *Status
	Body   json.RawMessage
}

type envelope struct {
	PVResponse json.RawMessage `json:"PVResponse"`
}

type statusOnly struct {
	PVStatus *Status `json:"PVStatus"`
}

func decodeResponse(b []byte) (*Response, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	resp := &Response{Body: env.PVResponse}
	if len(env.PVResponse) > 0 {
		var s statusOnly
		if err := json.Unmarshal(env.PVResponse, &s); err != nil {
			return nil, err
		}
		resp.Status = s.PVStatus
	}
	return resp, nil
}

// Code returns the status code, or "" for a nil or status-less response.
func Code(r *Response) string {
	if r == nil || r.Status == nil {
		return ""
	}
	return r.Status.Code
}

// Message returns the status message.
func Message(r *Response) string {
	if r == nil || r.Status == nil {
		return ""
	}
	return r.Status.Message
}

// ScriptMessage returns the script error message, if any.
func ScriptMessage(r *Response) string {
	if r == nil || r.Status == nil {
		return ""
	}
	return r.Status.ScriptMessage
}

// IsOK reports a fully successful response.
func IsOK(r *Response) bool {
	return Code(r) == CodeOK && Message(r) == MessageOK
}

// IsTruncated reports a query whose result was cut short.
func IsTruncated(r *Response) bool {
	return Code(r) == CodeTruncated
}

// IsTooLarge reports a query rejected for request size.
func IsTooLarge(r *Response) bool {
	return Code(r) == CodeQueryFailed && Message(r) == MessageTooLarge
}

// IsBulkUpsertInProgress reports a query answered while a bulk upsert is
// still running.
func IsBulkUpsertInProgress(r *Response) bool {
	c := Code(r)
	return c == CodeOKUpsertInProgress || c == CodeTruncatedUpsertProgress
}

// Err converts a non-OK response into a fault error.
func Err(op string, r *Response) error {
	if IsOK(r) {
		return nil
	}
	e := &fault.Error{Kind: fault.KindOperation, Code: Code(r), Message: Message(r), Op: op}
	if e.Code == "" {
		e.Code = fault.CodeOperation
	}
	if e.Message == "" {
		e.Message = "request failed without status"
	}
	if sm := ScriptMessage(r); sm != "" {
		e.Message += ": " + sm
	}
	return e
}
