package api

import (
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// tenantIDPattern matches the tenant identifiers issued by the platform
var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

var registerValidatorsOnce sync.Once

// registerValidators installs the custom binding validations
func registerValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("tenant_id", func(fl validator.FieldLevel) bool {
			return tenantIDPattern.MatchString(fl.Field().String())
		})
	})
}
