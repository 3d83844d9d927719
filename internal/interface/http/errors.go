package httpservice

import (
	"encoding/json"
	"net/http"

	"github.com/arkade-os/escrowd/pkg/errors"
	log "github.com/sirupsen/logrus"
	grpccodes "google.golang.org/grpc/codes"
)

var somethingWentWrong = errors.INTERNAL_ERROR.New("something went wrong")

type errorResponse struct {
	Code     uint16            `json:"code"`
	Name     string            `json:"name"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err errors.Error) {
	status := httpStatus(err.GrpcCode())
	if status >= http.StatusInternalServerError {
		err.Log().WithField("path", r.URL.Path).Error(err.Error())
	} else {
		log.Debugf("%s %s: %s", r.Method, r.URL.Path, err)
	}

	writeJSON(w, status, errorResponse{
		Code:     err.Code(),
		Name:     err.CodeName(),
		Message:  err.Error(),
		Metadata: err.Metadata(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

func httpStatus(code grpccodes.Code) int {
	switch code {
	case grpccodes.OK:
		return http.StatusOK
	case grpccodes.InvalidArgument, grpccodes.OutOfRange:
		return http.StatusBadRequest
	case grpccodes.Unauthenticated:
		return http.StatusUnauthorized
	case grpccodes.PermissionDenied:
		return http.StatusForbidden
	case grpccodes.NotFound:
		return http.StatusNotFound
	case grpccodes.AlreadyExists, grpccodes.Aborted:
		return http.StatusConflict
	case grpccodes.FailedPrecondition:
		return http.StatusUnprocessableEntity
	case grpccodes.ResourceExhausted:
		return http.StatusTooManyRequests
	case grpccodes.Unavailable:
		return http.StatusServiceUnavailable
	case grpccodes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case grpccodes.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
