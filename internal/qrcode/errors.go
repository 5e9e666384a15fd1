package qrcode

import "github.com/pkg/errors"

var (
	ErrDecode                 = errors.New("not a recognized order code")
	ErrExpired                = errors.New("qr code expired")
	ErrTenantMismatch         = errors.New("qr code belongs to another tenant")
	ErrInvalidSignature       = errors.New("qr code signature is invalid")
	ErrRemoteValidationFailed = errors.New("remote qr validation failed")
)

type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string {
	return ErrDecode.Error() + ": " + e.Cause.Error()
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func (e *DecodeError) Unwrap() error { return e.Cause }

// RemoteError carries the authority's own explanation.
type RemoteError struct {
	Message string
	Cause   error
}

func (e *RemoteError) Error() string {
	msg := ErrRemoteValidationFailed.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemoteValidationFailed }

func (e *RemoteError) Unwrap() error { return e.Cause }
