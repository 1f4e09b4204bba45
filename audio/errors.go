package audio

import (
	"errors"
	"strings"
)

var (
	ErrPermissionDenied = errors.New("capture permission denied")
	ErrNoDevice         = errors.New("no capture device available")
)

// AcquisitionError reports a failure to open the microphone. Kind is one of
// the sentinel errors above when the cause could be classified.
type AcquisitionError struct {
	Op   string
	Kind error
	Err  error
}

func (e *AcquisitionError) Error() string {
	msg := "audio " + e.Op
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AcquisitionError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// acquisitionError classifies backend errors by message. Neither PulseAudio
// nor miniaudio expose a stable typed error for "access denied".
func acquisitionError(op string, err error) *AcquisitionError {
	var ae *AcquisitionError
	if errors.As(err, &ae) {
		return ae
	}
	msg := strings.ToLower(err.Error())
	var kind error
	switch {
	case strings.Contains(msg, "denied"), strings.Contains(msg, "permission"),
		strings.Contains(msg, "not authorized"), strings.Contains(msg, "access"):
		kind = ErrPermissionDenied
	case strings.Contains(msg, "no such"), strings.Contains(msg, "not found"),
		strings.Contains(msg, "no device"), strings.Contains(msg, "no entity"),
		strings.Contains(msg, "connection refused"):
		kind = ErrNoDevice
	}
	return &AcquisitionError{Op: op, Kind: kind, Err: err}
}
