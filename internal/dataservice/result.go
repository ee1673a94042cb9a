package dataservice

import "errors"

// Result is the uniform response envelope handed to the UI.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// OK wraps a successful payload.
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail converts err into a failed Result. Errors outside the known taxonomy
// are reported without their message.
func Fail(err error) Result {
	code := Code(err)
	res := Result{Success: false, Code: code, Error: err.Error()}
	if code == CodeInternal {
		res.Error = "internal error"
	}

	var (
		verr *ValidationError
		cerr *ContentRejectedError
		qerr *QuotaExceededError
	)
	switch {
	case errors.As(err, &verr):
		res.Details = verr.Messages
	case errors.As(err, &cerr):
		res.Details = cerr.Fields
	case errors.As(err, &qerr):
		res.Details = LimitInfo{CurrentCount: qerr.Current, Limit: qerr.Limit, UserLevel: qerr.Tier}
	}
	return res
}
