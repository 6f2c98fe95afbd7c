// Package classify decides whether a send failure is transient (retry) or
// permanent (drop), component C. It also carries the user-visible mapping
// from §7: transport error codes translate to human-readable strings while
// the machine-readable code is preserved.
package classify

import (
	"errors"
	"net"
	"strconv"
	"strings"
)

// Code is the machine-readable classification of a transport failure.
type Code string

const (
	CodeConnectionRefused Code = "connection-refused"
	CodeConnectionTimeout Code = "connection-timeout"
	CodeConnectionReset   Code = "connection-reset"
	CodeNameNotFound      Code = "name-not-found"
	CodeSocketError       Code = "socket-error"
	CodeTLSHandshake      Code = "tls-handshake"
	CodeAuthFailed        Code = "auth-failed"
	CodeProtocol4xx       Code = "smtp-4xx"
	CodeProtocol5xx       Code = "smtp-5xx"
	CodeUnknown           Code = "unknown"
)

// userMessages maps each Code to the human-readable string from §7.
var userMessages = map[Code]string{
	CodeConnectionRefused: "connection refused",
	CodeConnectionTimeout: "timeout",
	CodeConnectionReset:   "connection reset",
	CodeNameNotFound:      "server not found",
	CodeSocketError:       "socket error",
	CodeTLSHandshake:      "socket error",
	CodeAuthFailed:        "authentication failed",
	CodeProtocol4xx:       "temporary delivery failure",
	CodeProtocol5xx:       "delivery rejected",
	CodeUnknown:           "send failed",
}

// ClassifiedError is the result of Classify: whether the original error is
// worth retrying, whether it's a permanent rejection, the machine code and
// the sanitized user-facing message.
type ClassifiedError struct {
	Code        Code
	Retryable   bool
	Permanent   bool
	UserMessage string
	Cause       error
}

func (e ClassifiedError) Error() string {
	return e.UserMessage + ": " + e.Cause.Error()
}

// Classify inspects err and returns its retry classification. Retryable
// iff the underlying error is a connection timeout, reset, or name lookup
// failure, or the SMTP response code lies in [400, 500). Authentication
// failures (SMTP 535, or a dialer auth error) are always permanent. All
// other outcomes are permanent.
func Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{Code: CodeUnknown, UserMessage: userMessages[CodeUnknown]}
	}

	code := classifyCode(err)
	switch code {
	case CodeConnectionTimeout, CodeConnectionReset, CodeNameNotFound, CodeProtocol4xx:
		return ClassifiedError{Code: code, Retryable: true, UserMessage: userMessages[code], Cause: err}
	case CodeAuthFailed, CodeProtocol5xx, CodeConnectionRefused, CodeTLSHandshake, CodeSocketError:
		return ClassifiedError{Code: code, Permanent: true, UserMessage: userMessages[code], Cause: err}
	default:
		return ClassifiedError{Code: CodeUnknown, Permanent: true, UserMessage: userMessages[CodeUnknown], Cause: err}
	}
}

func classifyCode(err error) Code {
	msg := strings.ToLower(err.Error())

	if smtpCode, ok := extractSMTPCode(err, msg); ok {
		if smtpCode == 535 || (smtpCode >= 530 && smtpCode < 540 && strings.Contains(msg, "auth")) {
			return CodeAuthFailed
		}
		if smtpCode >= 400 && smtpCode < 500 {
			return CodeProtocol4xx
		}
		if smtpCode >= 500 && smtpCode < 600 {
			return CodeProtocol5xx
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeConnectionTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeNameNotFound
	}

	switch {
	case strings.Contains(msg, "no such host"):
		return CodeNameNotFound
	case strings.Contains(msg, "connection refused"):
		return CodeConnectionRefused
	case strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe"):
		return CodeConnectionReset
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "i/o timeout"):
		return CodeConnectionTimeout
	case strings.Contains(msg, "tls") || strings.Contains(msg, "certificate") || strings.Contains(msg, "handshake"):
		return CodeTLSHandshake
	case strings.Contains(msg, "auth"):
		return CodeAuthFailed
	case strings.Contains(msg, "socket") || strings.Contains(msg, "eof"):
		return CodeSocketError
	default:
		return CodeUnknown
	}
}

// extractSMTPCode pulls a 3-digit SMTP reply code out of the error text;
// go-mail surfaces the underlying net/smtp *textproto.Error formatted as
// "<code> <message>" (possibly behind a wrapping prefix), so the first
// whitespace-separated field that is exactly three digits in 200–599
// (a trailing ':' is ignored) is taken as the reply code.
func extractSMTPCode(err error, msg string) (int, bool) {
	_ = err
	fields := strings.Fields(msg)
	for _, f := range fields {
		f = strings.TrimRight(f, ":")
		if len(f) == 3 {
			if n, convErr := strconv.Atoi(f); convErr == nil && n >= 200 && n < 600 {
				return n, true
			}
		}
	}
	return 0, false
}
