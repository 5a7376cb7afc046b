package models

// APIVersion is the admin REST API version every document carries.
const APIVersion = "v1"

// Return codes the admin server puts in Response.Code.
const (
	CodeSuccess          = "CWLNA0000"
	CodeAsync            = "CWLNA0010"
	CodeNotFoundItem     = "CWLNA0113"
	CodeNotFound         = "CWLNA0136"
	CodeInvalidRequest   = "CWLNA0137"
	CodeConfigComplete   = "CWLNA6011"
	CodeRestartRequired  = "CWLNA6168"
	CodeConnNotFound     = "CWLNA6136"
	CodeClientSetDeleted = "CWLNA6197"
)

// Response is the status document returned by POST, PUT and DELETE calls and
// by failing GET calls.
type Response struct {
	Status  int    `json:"Status,omitempty"`
	Code    string `json:"Code,omitempty"`
	Message string `json:"Message,omitempty"`

	// Set on asynchronous service requests (ClientSet export and import).
	RequestID string `json:"RequestID,omitempty"`
}

// Success reports whether the code is one of the server's success codes
// or the document carries a 2xx status. An empty document is a success.
func (r Response) Success() bool {
	switch r.Code {
	case CodeSuccess, CodeAsync, CodeConfigComplete, CodeRestartRequired, CodeClientSetDeleted:
		return true
	}
	if r.Status == 0 {
		return r.Code == ""
	}
	return r.Status >= 200 && r.Status < 300
}
