package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/bookstore-orderflow/internal/paystack"
)

// New returns a configured validator. Field errors are reported under their
// JSON names.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	// amount is a decimal, which tag validators cannot inspect
	v.RegisterStructValidation(initiatePaymentStructValidation, InitiatePaymentRequest{})

	return v
}

// initiatePaymentStructValidation requires a positive amount with at most
// two decimal places, i.e. one that converts exactly to kobo.
func initiatePaymentStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(InitiatePaymentRequest)
	if _, err := paystack.ToMinor(req.Amount); err != nil {
		sl.ReportError(req.Amount, "amount", "Amount", "amount_minor_units", req.Amount.String())
	}
}
