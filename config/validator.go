package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bitrise-io/go-s3-multipart/multipart/failure"
	"github.com/bytedance/sonic"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
)

var (
	once     sync.Once
	validate *Validator
	initErr  error
)

// Validator checks `validate` struct tags and reports violations in English.
type Validator struct {
	uni       *ut.UniversalTranslator
	validator *validator.Validate
}

// NewValidator ...
func NewValidator() (*Validator, error) {
	en := en.New()
	uni := ut.New(en, en)
	validate := validator.New(
		validator.WithRequiredStructEnabled(),
	)

	// Register default translations (en)
	trans, _ := uni.GetTranslator("en")
	if err := entranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, fmt.Errorf("failed to register translations: %w", err)
	}

	return &Validator{
		uni:       uni,
		validator: validate,
	}, nil
}

// Validate returns a configuration error listing every violated field, or nil.
func (v *Validator) Validate(i interface{}) error {
	err := v.validator.Struct(i)
	if err == nil {
		return nil
	}

	var valErr validator.ValidationErrors
	if errors.As(err, &valErr) {
		trans, _ := v.uni.GetTranslator("en")
		text, err := sonic.Marshal(valErr.Translate(trans))
		if err != nil {
			// Fallback to the original validation error if JSON marshaling fails
			return failure.New(failure.KindConfiguration, "validate", valErr)
		}

		return failure.New(failure.KindConfiguration, "validate", errors.New(string(text)))
	}

	return failure.New(failure.KindConfiguration, "validate", err)
}

// Validate validates i with a shared Validator.
func Validate(i any) error {
	once.Do(func() {
		validate, initErr = NewValidator()
	})
	if initErr != nil {
		return fmt.Errorf("failed to create validator: %w", initErr)
	}
	return validate.Validate(i)
}
