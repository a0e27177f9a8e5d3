// Package apierror holds the error taxonomy for calls to the remote account
// service.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Error is an application-level error reported by the remote service. Code
// and Message come from the service; Status is the HTTP status, when known.
type Error struct {
	Code    string
	Message string
	Status  int
}

type ErrorMessage struct {
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Status    int    `json:"status,omitempty"`
}

func New(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// FromResponse builds an Error from a non-2xx response body. JSON bodies with
// a message field are unpacked; anything else becomes the message verbatim.
func FromResponse(status int, body []byte) error {
	var m ErrorMessage
	if err := json.Unmarshal(body, &m); err == nil && m.Message != "" {
		code := m.Code
		if code == "" {
			code = m.ErrorCode
		}
		return New(code, m.Message, status)
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		text = http.StatusText(status)
	}
	return New("", text, status)
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return e.Code + ": " + e.Message
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return e.Code
	case e.Status != 0:
		return fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
	}
	return "remote error"
}

// ConnectError marks a failure to reach the remote service at all.
type ConnectError struct {
	Err error
}

// Connectivity wraps err as a ConnectError. A nil err stays nil.
func Connectivity(err error) error {
	if err == nil {
		return nil
	}
	return &ConnectError{Err: err}
}

func (e *ConnectError) Error() string {
	return "connect: " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Kind is the retry class of an error.
type Kind int

const (
	KindNone Kind = iota
	KindConnectivity
	KindApplication
	KindTimeout
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConnectivity:
		return "connectivity"
	case KindApplication:
		return "application"
	case KindTimeout:
		return "timeout"
	}
	return "other"
}

// Classify maps err onto a Kind. Timeouts win over everything else so that
// they can be logged at a lower severity.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}

	var ae *Error
	if errors.As(err, &ae) {
		return KindApplication
	}

	var ce *ConnectError
	if errors.As(err, &ce) {
		return KindConnectivity
	}
	var oe *net.OpError
	if errors.As(err, &oe) && oe.Op == "dial" {
		return KindConnectivity
	}
	var de *net.DNSError
	if errors.As(err, &de) {
		return KindConnectivity
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindConnectivity
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable") {
		return KindConnectivity
	}
	return KindOther
}

// IsConnectivity reports whether err means the remote could not be reached.
func IsConnectivity(err error) bool {
	return Classify(err) == KindConnectivity
}

// IsTimeout reports whether err is a deadline or timeout.
func IsTimeout(err error) bool {
	return Classify(err) == KindTimeout
}

// EncodeError renders err as a JSON error body for HTTP responses.
func EncodeError(err error) []byte {
	if err == nil {
		return nil
	}
	m := ErrorMessage{Message: err.Error()}
	var ae *Error
	if errors.As(err, &ae) {
		m.Message = ae.Message
		m.Code = ae.Code
		m.Status = ae.Status
	}
	data, jerr := json.Marshal(&m)
	if jerr != nil {
		return []byte(`{"message":"internal server error"}`)
	}
	return data
}
