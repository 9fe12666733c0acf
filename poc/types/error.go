package types

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Concrete failures wrap one of these so callers can branch
// with errors.Is.
var (
	ErrMalformedRequest         = errors.New("malformed request")
	ErrInvalidBallotFormat      = fmt.Errorf("%w: invalid ballot format", ErrMalformedRequest)
	ErrUnauthorized             = errors.New("unauthorized")
	ErrSigningUnavailable       = errors.New("signing unavailable")
	ErrTrustEstablishmentFailed = errors.New("trust establishment failed")
	ErrEmptyBallotSet           = errors.New("no ballots to combine")
	ErrAuthorityUnreachable     = errors.New("authority unreachable")
	ErrAuthorityRejected        = errors.New("authority rejected the submission")
	ErrPersistenceFailure       = errors.New("persistence failure")
	ErrNotAvailable             = errors.New("not available")
)

type Component string

const (
	ComponentAuthority      Component = "authority"
	ComponentSigningChannel Component = "signing-channel"
	ComponentBootstrap      Component = "bootstrap"
	ComponentBallotStore    Component = "ballot-store"
	ComponentRelay          Component = "relay"
	ComponentConfig         Component = "config"
)

type Operation string

const (
	OperationEnsureRootIdentity  Operation = "ensure-root-identity"
	OperationSign                Operation = "sign"
	OperationDrawSerial          Operation = "draw-serial"
	OperationAuthorize           Operation = "authorize"
	OperationGenerateKey         Operation = "generate-key"
	OperationCreateRequest       Operation = "create-request"
	OperationRequestSignature    Operation = "request-signature"
	OperationInstallCertificates Operation = "install-certificates"
	OperationLoadBundle          Operation = "load-bundle"
	OperationSubmitBallot        Operation = "submit-ballot"
	OperationCombine             Operation = "combine"
	OperationSubmitAggregate     Operation = "submit-aggregate"
	OperationLatestResponse      Operation = "latest-response"
	OperationReadConfig          Operation = "reading-config"
	OperationValidateConfig      Operation = "validating-config"
)

// TallyError provides structured error handling
type TallyError struct {
	Component Component
	Operation Operation
	Kind      error
	Err       error
	Retryable bool
	Context   map[string]any
}

func (e TallyError) Error() string {
	msg := fmt.Sprintf("[%s:%s] %v", e.Component, e.Operation, e.Kind)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) > 0 {
		msg = fmt.Sprintf("%s (context: %v)", msg, e.Context)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e TallyError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func NewTallyError(component Component, operation Operation, kind, err error, retryable bool) TallyError {
	return TallyError{
		Component: component,
		Operation: operation,
		Kind:      kind,
		Err:       err,
		Retryable: retryable,
	}
}

func (e TallyError) WithContext(key string, value any) TallyError {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	e.Context = ctx
	return e
}

// HTTPStatus maps an error to the status code an API layer should answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, ErrEmptyBallotSet):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAvailable):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
