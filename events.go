// SPDX-License-Identifier: BSD-2-Clause

package nosip

// EventReply is the success envelope returned from handle_message.
type EventReply struct {
	Nosip  string                 `json:"nosip"`
	Result map[string]interface{} `json:"result"`
	Jsep   *Jsep                  `json:"jsep,omitempty"`
}

// ErrorReply is the failure envelope returned from handle_message.
type ErrorReply struct {
	ErrorCode ErrorCode `json:"error_code"`
	Error     string    `json:"error"`
}

// Jsep is the WebRTC-side SDP envelope carried alongside generate/process replies.
type Jsep struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func eventReply(event string, fields map[string]interface{}, jsep *Jsep) *EventReply {
	result := map[string]interface{}{"event": event}
	for k, v := range fields {
		result[k] = v
	}
	return &EventReply{Nosip: "event", Result: result, Jsep: jsep}
}

func errorReply(code ErrorCode, msg string) *ErrorReply {
	return newErr(code, msg).reply()
}
