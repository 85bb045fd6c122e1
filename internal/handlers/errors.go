package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-backend/internal/middleware"
	"github.com/smarttransit/booking-backend/internal/services"
	"github.com/smarttransit/booking-backend/pkg/validator"
)

func init() {
	validator.RegisterJSONNames(binding.Validator.Engine())
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

var kindStatus = map[services.ErrorKind]int{
	services.KindValidation:       http.StatusBadRequest,
	services.KindConflict:         http.StatusConflict,
	services.KindNotFound:         http.StatusNotFound,
	services.KindForbidden:        http.StatusForbidden,
	services.KindGateway:          http.StatusBadGateway,
	services.KindInvalidSignature: http.StatusBadRequest,
	services.KindInternal:         http.StatusInternalServerError,
}

// respondError writes err as an ErrorResponse. Internal causes are logged and
// never sent to the client.
func respondError(c *gin.Context, logger *logrus.Logger, err error, fields logrus.Fields) {
	kind := services.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	reasons := services.ReasonsOf(err)
	entry := logger.WithFields(fields).WithFields(logrus.Fields{
		"path":   c.Request.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("Request failed")
	} else {
		entry.WithField("reasons", reasons).Info("Request rejected")
	}

	message := services.ReasonInternal
	if len(reasons) > 0 {
		message = reasons[0]
	}
	c.JSON(status, ErrorResponse{
		Error:   string(kind),
		Message: message,
		Details: reasons,
	})
}

func badRequest(c *gin.Context, message string, details ...string) {
	if details == nil {
		details = []string{}
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   string(services.KindValidation),
		Message: message,
		Details: details,
	})
}

// bindJSON binds and checks the `binding` rules of req or writes 400
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, "Invalid request body", validator.Messages(err)...)
		return false
	}
	return true
}

// currentUser returns the authenticated user or writes 401
func currentUser(c *gin.Context) (middleware.UserContext, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "UNAUTHORIZED",
			Message: "Unauthorized",
			Details: []string{},
		})
	}
	return userCtx, exists
}

// pathUUID parses a uuid route parameter or writes 400
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "Invalid "+name, name+": must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
