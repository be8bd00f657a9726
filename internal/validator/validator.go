package validator

import (
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// trans is the singleton English translator for validation errors.
var (
	trans     ut.Translator
	setupOnce sync.Once
)

// Normalizer is implemented by payloads that clean their fields after decoding
// and before validation.
type Normalizer interface {
	Normalize()
}

// noNUL rejects strings containing U+0000, which PostgreSQL text columns cannot store.
func noNUL(fl govalidator.FieldLevel) bool {
	return !strings.ContainsRune(fl.Field().String(), 0)
}

// Setup registers English translations and JSON field names on Gin's binding engine.
// Safe to call more than once; only the first call has an effect.
func Setup() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*govalidator.Validate)
		if !ok {
			return
		}

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		trans, _ = uni.GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("nonul", noNUL)
		_ = v.RegisterTranslation("nonul", trans,
			func(tr ut.Translator) error {
				return tr.Add("nonul", "{0} must not contain NUL characters", true)
			},
			func(tr ut.Translator, fe govalidator.FieldError) string {
				msg, _ := tr.T("nonul", fe.Field())
				return msg
			},
		)
	})
}

// TranslateErrors maps a binding error to field name → message.
// Errors that are not tied to a field are reported under "detail".
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

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		fields[typeErr.Field] = typeErr.Field + " must be a " + typeErr.Type.String()
		return fields
	}

	if errors.Is(err, io.EOF) {
		fields["detail"] = "request body is empty"
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

// Bind decodes the JSON request body into dst, normalizes it when dst is a Normalizer,
// then validates it. Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if c.Request == nil || c.Request.Body == nil {
		return TranslateErrors(io.EOF)
	}
	if err := json.NewDecoder(c.Request.Body).Decode(dst); err != nil {
		return TranslateErrors(err)
	}
	if n, ok := dst.(Normalizer); ok {
		n.Normalize()
	}
	if err := binding.Validator.ValidateStruct(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
