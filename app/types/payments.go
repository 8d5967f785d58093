package types

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type CreatePreferenceRequest struct {
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency" validate:"omitempty,len=3,alpha"`
	Description       string            `json:"description" validate:"required,max=256"`
	PayerEmail        string            `json:"payer_email" validate:"required,email"`
	PayerName         string            `json:"payer_name" validate:"max=128"`
	PayerSurname      string            `json:"payer_surname" validate:"max=128"`
	SuccessURL        string            `json:"success_url" validate:"omitempty,url"`
	FailureURL        string            `json:"failure_url" validate:"omitempty,url"`
	PendingURL        string            `json:"pending_url" validate:"omitempty,url"`
	ExternalReference string            `json:"external_reference" validate:"max=256"`
	ExpirationDate    *time.Time        `json:"expiration_date"`
	Metadata          map[string]string `json:"metadata"`
}

func NewCreatePreferenceRequestFromContext(ctx echo.Context) (*CreatePreferenceRequest, error) {
	var body CreatePreferenceRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.Currency = strings.ToUpper(strings.TrimSpace(body.Currency))
	body.Description = strings.TrimSpace(body.Description)
	body.PayerEmail = strings.TrimSpace(body.PayerEmail)
	body.PayerName = strings.TrimSpace(body.PayerName)
	body.PayerSurname = strings.TrimSpace(body.PayerSurname)
	body.SuccessURL = strings.TrimSpace(body.SuccessURL)
	body.FailureURL = strings.TrimSpace(body.FailureURL)
	body.PendingURL = strings.TrimSpace(body.PendingURL)
	body.ExternalReference = strings.TrimSpace(body.ExternalReference)

	return &body, nil
}

func (r *CreatePreferenceRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return errors.New("amount must be > 0")
	}
	return validationError(validate.Struct(r))
}

type GetPaymentRequest struct {
	ID string `json:"id" validate:"required,max=64"`
}

func NewGetPaymentRequestFromContext(ctx echo.Context) (*GetPaymentRequest, error) {
	return &GetPaymentRequest{ID: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *GetPaymentRequest) Validate() error {
	if r.ID == "" {
		return errors.New("invalid payment id")
	}
	return validationError(validate.Struct(r))
}

type CreateRefundRequest struct {
	PaymentID string           `json:"-"`
	Amount    *decimal.Decimal `json:"amount"`
	Reason    string           `json:"reason" validate:"max=255"`
}

func NewCreateRefundRequestFromContext(ctx echo.Context) (*CreateRefundRequest, error) {
	var body CreateRefundRequest
	if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.PaymentID = strings.TrimSpace(ctx.Param("id"))
	body.Reason = strings.TrimSpace(body.Reason)

	return &body, nil
}

func (r *CreateRefundRequest) Validate() error {
	if r.PaymentID == "" || len(r.PaymentID) > 64 {
		return errors.New("invalid payment id")
	}
	if r.Amount != nil && !r.Amount.IsPositive() {
		return errors.New("amount must be > 0")
	}
	return validationError(validate.Struct(r))
}

func validationError(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "email":
		return fmt.Errorf("%s must be a valid email", fe.Field())
	case "url":
		return fmt.Errorf("%s must be a valid url", fe.Field())
	case "len":
		return fmt.Errorf("%s must be %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}
