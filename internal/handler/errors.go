package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attendance"
)

// StatusFor maps an engine error kind to an HTTP status.
func StatusFor(kind attendance.Kind) int {
	switch kind {
	case attendance.KindInvalidLocation,
		attendance.KindOutOfRange,
		attendance.KindMissingField,
		attendance.KindInvalidTimestamp,
		attendance.KindInvalidStaff:
		return http.StatusBadRequest
	case attendance.KindAlreadyCheckedIn, attendance.KindAlreadyCompleted:
		return http.StatusConflict
	case attendance.KindNotAuthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	kind := attendance.KindOf(err)
	msg := "internal server error"
	var e *attendance.Error
	if errors.As(err, &e) && kind != attendance.KindStorageUnavailable {
		msg = e.Message
	}
	if kind == attendance.KindStorageUnavailable {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(StatusFor(kind), gin.H{"error": string(kind), "message": msg})
}
