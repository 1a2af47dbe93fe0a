package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

var (
	currencyPattern      = regexp.MustCompile(`^[A-Z]{3}$`)
	transactionIDPattern = regexp.MustCompile(`^TX\d{8}-\d{6}$`)
)

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Register custom validations
	registerCustomValidations()
}

func registerCustomValidations() {
	// Transaction status validation
	validate.RegisterValidation("transaction_status", func(fl validator.FieldLevel) bool {
		status := fl.Field().String()
		validStatuses := []string{"in progress", "paid", "cancelled", "refunded", "partial refund", "unknown", "failed"}
		for _, s := range validStatuses {
			if status == s {
				return true
			}
		}
		return false
	})

	// ISO 4217 style currency code
	validate.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return currencyPattern.MatchString(fl.Field().String())
	})

	// Allocator-minted ledger identifier, e.g. TX20261019-000042
	validate.RegisterValidation("transaction_id", func(fl validator.FieldLevel) bool {
		return transactionIDPattern.MatchString(fl.Field().String())
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string)
	for _, err := range verrs {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "gt":
			errors[field] = "Value must be greater than " + err.Param()
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "uuid", "uuid4":
			errors[field] = "Invalid UUID"
		case "currency":
			errors[field] = "Invalid currency. Must be a 3-letter upper-case code"
		case "transaction_status":
			errors[field] = "Invalid status"
		case "transaction_id":
			errors[field] = "Invalid transaction id"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
