package component

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/asaskevich/govalidator"
	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
)

// ValidationError reports a configuration that does not satisfy a schema.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

var quotedField = regexp.MustCompile(`'([^']+)'`)

func init() {
	govalidator.TagMap["cron"] = govalidator.Validator(func(str string) bool {
		_, err := cron.ParseStandard(str)
		return err == nil
	})
	govalidator.TagMap["regexp"] = govalidator.Validator(func(str string) bool {
		_, err := regexp.Compile(str)
		return err == nil
	})
}

// Validate decodes cfg into schema (a pointer to a tagged struct) and checks its
// govalidator constraints. Keys use the `cfg` struct tag; string values are
// converted to bool and numeric fields.
func Validate(schema interface{}, cfg Configuration) error {
	if schema == nil {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "cfg",
		WeaklyTypedInput: true,
		Result:           schema,
	})
	if err != nil {
		return fmt.Errorf("failed to build configuration decoder: %w", err)
	}

	if err := decoder.Decode(map[string]interface{}(cfg)); err != nil {
		field := ""
		if m := quotedField.FindStringSubmatch(err.Error()); m != nil {
			field = m[1]
		}
		return &ValidationError{Field: field, Reason: err.Error()}
	}

	if _, err := govalidator.ValidateStruct(schema); err != nil {
		field, reason := firstFieldError(err)
		return &ValidationError{Field: field, Reason: reason}
	}
	return nil
}

// firstFieldError digs the first field-level failure out of govalidator's
// (possibly nested) error list.
func firstFieldError(err error) (string, string) {
	var fieldErr govalidator.Error
	if errors.As(err, &fieldErr) {
		return fieldErr.Name, fieldErr.Err.Error()
	}

	var list govalidator.Errors
	if errors.As(err, &list) {
		for _, e := range list.Errors() {
			if field, reason := firstFieldError(e); field != "" {
				return field, reason
			}
		}
	}
	return "", err.Error()
}
