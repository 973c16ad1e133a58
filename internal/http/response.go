package http

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusError indicates the whole request failed.
	StatusError Status = "error"
)

// Response is the body of health checks and whole-request failures. Batch
// endpoints answer with rpc.Envelope instead.
type Response struct {
	Status Status `json:"status,omitempty"`
	Node   string `json:"node,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewOKResponse(node string) Response {
	return Response{Status: StatusOK, Node: node}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
