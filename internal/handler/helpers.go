package handler

import (
	"errors"
	"net/http"
	"reflect"
	"time"

	"github.com/vwinv/backend-almadina/internal/apierror"
	"github.com/vwinv/backend-almadina/internal/dto"
	"github.com/vwinv/backend-almadina/internal/middleware"
	"github.com/vwinv/backend-almadina/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Register decimal.Decimal as a numeric type so that validator tags like
	// min=0 and required work on money fields.
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	// money: at most two decimal places and below 10^12, what the ledger
	// columns hold without rounding.
	_ = validate.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		switch f := fl.Field(); f.Kind() {
		case reflect.Float32, reflect.Float64:
			return service.IsMoney(decimal.NewFromFloat(f.Float()))
		default:
			return false
		}
	})
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails;
// the caller should return immediately without writing another response.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid JSON: "+err.Error()))
		return false
	}
	return validateStruct(c, req)
}

// bindOptionalJSON is bindAndValidate for endpoints whose body may be empty.
func bindOptionalJSON(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return validateStruct(c, req)
	}
	return bindAndValidate(c, req)
}

func validateStruct(c *gin.Context, req interface{}) bool {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, apierror.New(err.Error()))
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

// bindDateRange reads ?start_date&end_date as business dates.
func bindDateRange(c *gin.Context) (from, to *time.Time, ok bool) {
	var q dto.DateRangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid query: "+err.Error()))
		return nil, nil, false
	}
	if !validateStruct(c, &q) {
		return nil, nil, false
	}
	// Format already checked by the datetime tag.
	if q.StartDate != "" {
		d, _ := service.ParseBusinessDate(q.StartDate)
		from = &d
	}
	if q.EndDate != "" {
		d, _ := service.ParseBusinessDate(q.EndDate)
		to = &d
	}
	return from, to, true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// callerFrom builds the service identity from the JWT claims. JWTAuth has
// already rejected tokens without a valid user id.
func callerFrom(c *gin.Context) service.Caller {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return service.Caller{}
	}
	id, _ := uuid.Parse(claims.UserID)
	return service.Caller{UserID: id, Role: claims.Role}
}

// respondError writes domain errors with their status and hides everything
// else behind a generic 500.
func respondError(c *gin.Context, err error) {
	status := apierror.StatusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().
			Str("request_id", c.GetString(middleware.RequestIDKey)).
			Str("path", c.FullPath()).
			Err(err).
			Msg("request failed")
		c.JSON(status, apierror.New("internal server error"))
		return
	}
	c.JSON(status, apierror.New(err.Error()))
}
