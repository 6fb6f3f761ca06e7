package config

import (
	"fmt"
	"net"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ifnameRegexp      = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{1,15}$`)
	chainNameRegexp   = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,28}$`)
	profileNameRegexp = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)
)

// getValidationMessage returns a human-readable message for a validation error
func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "field is required"
	case "required_if":
		return fmt.Sprintf("field is required when %s", e.Param())
	case "min", "gte":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "max":
		return fmt.Sprintf("must be <= %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "ip":
		return "must be a valid IP address"
	case "ifname":
		return "must be a valid interface name (up to 15 characters of [a-zA-Z0-9_.-])"
	case "chain_name":
		return "must be a valid iptables chain name (up to 28 characters of [A-Za-z0-9_-])"
	case "profile_name":
		return "must consist only of letters, numbers, dashes and underscores"
	case "hostport_or_empty":
		return "must be in format 'host:port' or empty"
	default:
		return fmt.Sprintf("validation failed: %s", e.Tag())
	}
}

// ValidationError represents a single validation error with context
type ValidationError struct {
	ItemName  string // For VPN client profiles: the profile name
	FieldPath string // Dot-notation field path (e.g., "routing.vc_mask", "netfilter.dns_chain")
	Message   string // Human-readable error message
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("validation failed with %d error(s):\n", len(ve)))
	for i, err := range ve {
		if err.ItemName != "" {
			sb.WriteString(fmt.Sprintf("  %d. [%s] %s: %s\n", i+1, err.ItemName, err.FieldPath, err.Message))
		} else {
			sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.FieldPath, err.Message))
		}
	}
	return sb.String()
}

var validate *validator.Validate

func init() {
	validate = validator.New()

	if err := validate.RegisterValidation("hostport_or_empty", validateHostPortOrEmpty); err != nil {
		panic(err)
	}
	if err := validate.RegisterValidation("ifname", validateRegexp(ifnameRegexp)); err != nil {
		panic(err)
	}
	if err := validate.RegisterValidation("chain_name", validateRegexp(chainNameRegexp)); err != nil {
		panic(err)
	}
	if err := validate.RegisterValidation("profile_name", validateRegexp(profileNameRegexp)); err != nil {
		panic(err)
	}

	// Register function to get field name from "toml" tag
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Custom validator: host:port format or empty
func validateHostPortOrEmpty(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, _, err := net.SplitHostPort(value)
	return err == nil
}

func validateRegexp(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// IsValidInterfaceName reports whether name is acceptable as a Linux interface name.
func IsValidInterfaceName(name string) bool {
	return ifnameRegexp.MatchString(name)
}
