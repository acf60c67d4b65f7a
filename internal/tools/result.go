package tools

// Status classifies the outcome of a tool invocation.
type Status string

const (
	StatusOK             Status = "ok"
	StatusNotFound       Status = "not_found"
	StatusInvalid        Status = "invalid"
	StatusAlreadyDone    Status = "already_done"
	StatusStorageFailure Status = "storage_failure"
)

// Result is the outcome of one tool invocation: a status for callers that
// branch on it and a single sentence meant to be read aloud.
type Result struct {
	Status Status `json:"status"`
	Text   string `json:"text"`
}

// OK reports whether the invocation succeeded (already done counts).
func (r Result) OK() bool {
	return r.Status == StatusOK || r.Status == StatusAlreadyDone
}

func ok(text string) Result          { return Result{Status: StatusOK, Text: text} }
func invalid(text string) Result     { return Result{Status: StatusInvalid, Text: text} }
func notFound(title string) Result   { return Result{Status: StatusNotFound, Text: notFoundText(title)} }
func alreadyDone(text string) Result { return Result{Status: StatusAlreadyDone, Text: text} }
