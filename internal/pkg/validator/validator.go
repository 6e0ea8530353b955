package validator

import (
	"fmt"

	"parkshare/internal/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	if err := registerRules(validate); err != nil {
		panic(err)
	}
}

func registerRules(v *validator.Validate) error {
	if err := v.RegisterValidation("issue_type", func(fl validator.FieldLevel) bool {
		return domain.IssueType(fl.Field().String()).Valid()
	}); err != nil {
		return err
	}
	return v.RegisterValidation("resolution", func(fl validator.FieldLevel) bool {
		return domain.Resolution(fl.Field().String()).Final()
	})
}

// RegisterGinRules adds the domain rules to gin's binding validator so
// request DTOs can use them in binding tags.
func RegisterGinRules() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected gin validator engine %T", binding.Validator.Engine())
	}
	return registerRules(v)
}

// Validate struct fields
func Validate(v interface{}) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	for _, err := range err.(validator.ValidationErrors) {
		errors[err.Field()] = err.Tag()
	}
	return errors
}
