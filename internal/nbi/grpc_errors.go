package nbi

import (
	"errors"
	"net/http"

	"github.com/signalsfoundry/sewerflow-simulator/core"
	sim "github.com/signalsfoundry/sewerflow-simulator/internal/sim/state"
	"github.com/signalsfoundry/sewerflow-simulator/kb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrNotFound is a package-level sentinel used when an entity cannot be located.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest is a package-level sentinel used for client-side validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

// ToStatusError maps simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, sim.ErrNoSnapshot),
		errors.Is(err, sim.ErrSiteNotFound),
		errors.Is(err, core.ErrUnknownNode):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, kb.ErrSiteInvalid),
		errors.Is(err, core.ErrConfiguration):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, sim.ErrNotRunning),
		errors.Is(err, sim.ErrTerminated):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, sim.ErrAlreadyRunning):
		return status.Error(codes.AlreadyExists, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// HTTPStatus maps an error to the HTTP status that matches its gRPC code.
func HTTPStatus(err error) int {
	switch status.Code(ToStatusError(err)) {
	case codes.OK:
		return http.StatusOK
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition, codes.AlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
