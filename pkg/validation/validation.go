package validation

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/vinodismyname/mcpkpi/pkg/pagination"
)

var (
	v         *validator.Validate
	kpiNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 _%/\-]{0,79}$`)
)

// Validator returns a singleton validator with custom rules registered.
func Validator() *validator.Validate {
	if v == nil {
		v = validator.New()
		// Custom: dataset path must have a supported extension
		_ = v.RegisterValidation("filepath_ext", func(fl validator.FieldLevel) bool {
			s := strings.TrimSpace(fl.Field().String())
			if s == "" {
				return false
			}
			s = strings.ToLower(s)
			return strings.HasSuffix(s, ".xlsx") || strings.HasSuffix(s, ".xlsm") || strings.HasSuffix(s, ".csv")
		})
		// Custom: KPI name must look like a human-readable identifier
		_ = v.RegisterValidation("kpiname", func(fl validator.FieldLevel) bool {
			return kpiNameRe.MatchString(strings.TrimSpace(fl.Field().String()))
		})
		// Custom: formula must be a single expression, not a statement block.
		// The sandbox rejects anything that is not a pure expression; this
		// check only gives earlier, friendlier feedback.
		_ = v.RegisterValidation("formula", func(fl validator.FieldLevel) bool {
			s := strings.TrimSpace(fl.Field().String())
			if s == "" {
				return false
			}
			return !strings.ContainsAny(s, "\n;")
		})
		// Custom: cursor must be decodable via pagination.DecodeCursor
		_ = v.RegisterValidation("cursor", func(fl validator.FieldLevel) bool {
			s := strings.TrimSpace(fl.Field().String())
			if s == "" {
				return true // empty is allowed; use omitempty with this tag
			}
			// Quick URL-safe base64 precheck
			if _, err := base64.RawURLEncoding.DecodeString(s); err != nil {
				return false
			}
			if _, err := pagination.DecodeCursor(s); err != nil {
				return false
			}
			return true
		})
	}
	return v
}

// ValidateStruct validates a struct and returns a user-friendly error string
// suitable for MCP tool errors. Returns empty string when valid.
func ValidateStruct(s any) string {
	if err := Validator().Struct(s); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			fe := ve[0]
			field := strings.ToLower(fe.Field())
			switch fe.Tag() {
			case "required":
				return fmt.Sprintf("VALIDATION: %s is required", field)
			case "required_without":
				if field == "path" {
					return "VALIDATION: path is required (or supply dataset_id)"
				}
				return fmt.Sprintf("VALIDATION: %s is required", field)
			case "filepath_ext":
				return "VALIDATION: path must be a tabular dataset (.xlsx, .xlsm, .csv)"
			case "kpiname":
				return "VALIDATION: KPI name must start with a letter and use letters, digits, spaces, or _-%/"
			case "formula":
				return "VALIDATION: formula must be a single expression (no assignments or imports)"
			case "cursor":
				return "CURSOR_INVALID: failed to decode cursor; reopen dataset and restart pagination"
			case "min", "max", "gte", "lte":
				return fmt.Sprintf("VALIDATION: %s must satisfy %s=%s", field, fe.Tag(), fe.Param())
			}
			// Fallback generic
			return fmt.Sprintf("VALIDATION: invalid %s", field)
		}
		return "VALIDATION: invalid inputs"
	}
	return ""
}
