package api

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// CallResponse is returned after placing a call.
type CallResponse struct {
	CallSid string `json:"call_sid"`
}

// AMDStatus is the form Twilio posts with the result of asynchronous
// answering machine detection.
type AMDStatus struct {
	CallSid                  string `form:"CallSid"`
	AccountSid               string `form:"AccountSid"`
	AnsweredBy               string `form:"AnsweredBy"`
	MachineDetectionDuration int64  `form:"MachineDetectionDuration"`
}
