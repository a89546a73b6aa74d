package handlers

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"revealroom/services"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// HostClaimsKey is the gin context key holding the verified host token.
const HostClaimsKey = "host_claims"

// HostClaims returns the host token verified for this request, if any.
func HostClaims(c *gin.Context) (*services.HostClaims, bool) {
	v, ok := c.Get(HostClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*services.HostClaims)
	return claims, ok
}

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data"`
}

type ErrorBody struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// FieldError is one failed rule in a request body or query.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func Success(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Response{Success: true, Message: message, Data: data})
}

// Fail aborts the request with the error envelope.
func Fail(c *gin.Context, status int, message string, details interface{}) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Success: false,
		Error:   ErrorBody{Message: message, Details: details},
	})
}

// HandleError writes err with the status of its kind. Errors that are not
// domain errors are logged and reported as fallback.
func HandleError(c *gin.Context, err error, fallback string) {
	var domainErr *services.Error
	if !errors.As(err, &domainErr) {
		log.Error().Err(err).Str("method", c.Request.Method).Str("path", c.FullPath()).Msg(fallback)
		Fail(c, http.StatusInternalServerError, fallback, nil)
		return
	}

	Fail(c, statusFor(domainErr.Kind), domainErr.Message, domainErr.Details)
}

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	case services.KindBadRequest:
		return http.StatusBadRequest
	case services.KindValidation:
		return http.StatusUnprocessableEntity
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// BindError reports a failed ShouldBind*. Rule violations become 422 with
// per-field details; unreadable input is a 400.
func BindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, FieldError{
				Field: lowerFirst(fe.Field()),
				Rule:  fe.Tag(),
				Param: fe.Param(),
			})
		}
		Fail(c, http.StatusUnprocessableEntity, "Validation failed", details)
		return
	}

	Fail(c, http.StatusBadRequest, "Invalid request body", nil)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

var registerOnce sync.Once

// RegisterFieldNames makes validation errors report json/form names instead
// of Go field names.
func RegisterFieldNames() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return f.Name
		})
	})
}
