package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/stemsi/exchange-allocator/internal/model"
)

// trans is the singleton English translator for validation errors.
var (
	trans ut.Translator
	once  sync.Once
)

var cefrLevels = map[string]struct{}{
	"A1": {}, "A2": {}, "B1": {}, "B2": {}, "C1": {}, "C2": {},
}

// Setup registers the validator with English translations and the
// domain tags on Gin's binding engine. Safe to call more than once.
func Setup() {
	once.Do(func() {
		v, ok := binding.Validator.Engine().(*govalidator.Validate)
		if !ok {
			return
		}
		// Use JSON tag name for field names in error messages.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		v.RegisterValidation("cefr", func(fl govalidator.FieldLevel) bool {
			_, ok := cefrLevels[strings.ToUpper(strings.TrimSpace(fl.Field().String()))]
			return ok
		})
		v.RegisterValidation("studylevel", func(fl govalidator.FieldLevel) bool {
			l := model.Level(fl.Field().String())
			return l == model.LevelBachelor || l == model.LevelMaster
		})
		v.RegisterValidation("semester", func(fl govalidator.FieldLevel) bool {
			switch model.Semester(fl.Field().String()) {
			case model.SemesterWinter, model.SemesterSummer, model.SemesterNeutral:
				return true
			}
			return false
		})

		// Register English translations.
		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		trans, _ = uni.GetTranslator("en")
		en_translations.RegisterDefaultTranslations(v, trans)

		custom := map[string]string{
			"cefr":       "{0} must be a CEFR level (A1-C2)",
			"studylevel": "{0} must be Bachelor or Master",
			"semester":   "{0} must be WiSe, SoSe or Egal",
		}
		for tag, text := range custom {
			tag, text := tag, text
			v.RegisterTranslation(tag, trans, func(t ut.Translator) error {
				return t.Add(tag, text, true)
			}, func(t ut.Translator, fe govalidator.FieldError) string {
				msg, _ := t.T(tag, fe.Field())
				return msg
			})
		}
	})
}

// TranslateErrors takes a binding/validation error and returns a map of
// field name → human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if trans != nil {
				fields[fe.Field()] = fe.Translate(trans)
			} else {
				fields[fe.Field()] = fe.Error()
			}
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

// BindQuery binds and validates query parameters into dst.
func BindQuery(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindQuery(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

// Struct validates v outside a request, e.g. rows parsed from a workbook.
func Struct(v interface{}) map[string]string {
	Setup()
	if err := binding.Validator.ValidateStruct(v); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
