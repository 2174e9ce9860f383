// Package validation проверяет входные запросы и собранные агрегаты и возвращает все нарушения сразу.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// Validator оборачивает go-playground/validator и переводит ошибки в domain.Violation.
type Validator struct {
	validate *validator.Validate
}

// New создаёт валидатор с именами полей из json-тегов и правилом notblank.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(fmt.Sprintf("register notblank validation: %v", err))
	}
	return &Validator{validate: v}
}

// Struct проверяет структуру по validate-тегам.
func (v *Validator) Struct(s any) []domain.Violation {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []domain.Violation{{Field: "", Message: err.Error()}}
	}

	violations := make([]domain.Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations = append(violations, domain.Violation{
			Field:   fieldPath(fe),
			Message: message(fe),
		})
	}
	return violations
}

// Order проверяет инварианты агрегата и синтаксис email.
func (v *Validator) Order(order *domain.Order) []domain.Violation {
	violations := order.ValidateInvariants()
	if strings.TrimSpace(order.CustomerEmail) != "" && !v.IsEmail(order.CustomerEmail) {
		violations = append(violations, domain.Violation{Field: "customerEmail", Message: domain.MsgInvalidEmail})
	}
	return violations
}

// IsEmail сообщает, является ли строка синтаксически корректным адресом.
func (v *Validator) IsEmail(s string) bool {
	return v.validate.Var(s, "email") == nil
}

// fieldPath убирает имя корневой структуры: CreateOrderRequest.items[0].price -> items[0].price.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		if fe.Field() == "items" {
			return domain.MsgItemsRequired
		}
		return domain.MsgNotBlank
	case "email":
		return domain.MsgInvalidEmail
	case "gt":
		switch fe.Field() {
		case "quantity":
			return domain.MsgQuantityPositive
		case "price":
			return domain.MsgPricePositive
		}
		return fmt.Sprintf("This value should be greater than %s.", fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			return domain.MsgItemsRequired
		}
		return fmt.Sprintf("This value should be greater than or equal to %s.", fe.Param())
	case "max":
		return fmt.Sprintf("This value should be less than or equal to %s.", fe.Param())
	case "oneof":
		return "The value you selected is not a valid choice."
	case "datetime":
		return fmt.Sprintf("This value is not a valid date, expected format %s.", fe.Param())
	default:
		return fmt.Sprintf("This value failed the %q constraint.", fe.Tag())
	}
}
