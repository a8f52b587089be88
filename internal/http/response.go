package http

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response represents the standard API response format.
type Response struct {
	Status Status `json:"status,omitempty"`
	Value  string `json:"value,omitempty"`
	Tier   string `json:"tier,omitempty"`
	SeqN   uint64 `json:"seqn,omitempty"`
	Cold   int    `json:"cold,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

// NewWriteResponse reports the sequence number given to a write and how
// many cold records it sent to the flusher.
func NewWriteResponse(seq uint64, cold int) Response {
	return Response{Status: StatusSuccess, SeqN: seq, Cold: cold}
}

func NewValueResponse(value, tier string, seq uint64) Response {
	return Response{Status: StatusSuccess, Value: value, Tier: tier, SeqN: seq}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
