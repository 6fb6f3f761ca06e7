package config

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/go-playground/validator/v10"
)

// ValidateConfig validates the entire configuration and returns all validation errors
func (c *Config) ValidateConfig() error {
	var validationErrors ValidationErrors

	section := func(name string, present bool, value any) {
		if !present {
			validationErrors = append(validationErrors, ValidationError{
				FieldPath: name,
				Message:   fmt.Sprintf("configuration must contain '%s' section", name),
			})
			return
		}
		if err := validate.Struct(value); err != nil {
			validationErrors = append(validationErrors, convertValidatorErrors(err, name, "")...)
		}
	}
	section("general", c.General != nil, c.General)
	section("platform", c.Platform != nil, c.Platform)
	section("routing", c.Routing != nil, c.Routing)
	section("netfilter", c.Netfilter != nil, c.Netfilter)
	if len(validationErrors) > 0 {
		return validationErrors
	}

	validationErrors = append(validationErrors, c.validateRouting()...)
	validationErrors = append(validationErrors, c.validateVPNClients()...)

	if len(validationErrors) > 0 {
		return validationErrors
	}

	return nil
}

func (c *Config) validateRouting() ValidationErrors {
	var validationErrors ValidationErrors
	r := c.Routing

	if r.VCMask&r.AllMask != r.VCMask {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "routing.vc_mask",
			Message:   fmt.Sprintf("must be a subset of all_mask (%s)", r.AllMask),
		})
	}
	if r.VCMask&r.RegularMask != 0 {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "routing.regular_mask",
			Message:   fmt.Sprintf("must not overlap vc_mask (%s)", r.VCMask),
		})
	}
	if !isContiguous(uint32(r.VCMask)) {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "routing.vc_mask",
			Message:   "must be a contiguous run of bits",
		})
	}
	if !isContiguous(uint32(r.RegularMask)) {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "routing.regular_mask",
			Message:   "must be a contiguous run of bits",
		})
	}
	if r.EgressPriority == r.GrantPriority {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "routing.grant_priority",
			Message:   "must differ from egress_priority",
		})
	}

	return validationErrors
}

func isContiguous(mask uint32) bool {
	if mask == 0 {
		return false
	}
	shifted := mask >> bits.TrailingZeros32(mask)
	return shifted&(shifted+1) == 0
}

func (c *Config) validateVPNClients() ValidationErrors {
	var validationErrors ValidationErrors

	seenNames := make(map[string]bool)
	seenInterfaces := make(map[string]bool)

	for i, vc := range c.VPNClients {
		itemName := vc.Name
		if itemName == "" {
			itemName = fmt.Sprintf("vpn_client[%d]", i)
		}

		if err := validate.Struct(vc); err != nil {
			validationErrors = append(validationErrors, convertValidatorErrors(err, fmt.Sprintf("vpn_client.%d", i), itemName)...)
		}

		if vc.Name != "" && seenNames[vc.Name] {
			validationErrors = append(validationErrors, ValidationError{
				ItemName:  itemName,
				FieldPath: "name",
				Message:   fmt.Sprintf("duplicate profile name: %s", vc.Name),
			})
		}
		seenNames[vc.Name] = true

		if vc.Interface != "" && seenInterfaces[vc.Interface] {
			validationErrors = append(validationErrors, ValidationError{
				ItemName:  itemName,
				FieldPath: "interface",
				Message:   fmt.Sprintf("interface %s is already used by another profile", vc.Interface),
			})
		}
		seenInterfaces[vc.Interface] = true
	}

	return validationErrors
}

// convertValidatorErrors converts go-playground/validator errors to our ValidationError format
func convertValidatorErrors(err error, fieldPrefix string, itemName string) ValidationErrors {
	var validationErrors ValidationErrors

	var validatorErrs validator.ValidationErrors
	if errors.As(err, &validatorErrs) {
		for _, e := range validatorErrs {
			fieldPath := fieldPrefix
			if e.Field() != "" {
				// e.Field() returns the TOML tag name because we registered TagNameFunc
				if fieldPrefix != "" {
					fieldPath = fieldPrefix + "." + e.Field()
				} else {
					fieldPath = e.Field()
				}
			}

			validationErrors = append(validationErrors, ValidationError{
				ItemName:  itemName,
				FieldPath: fieldPath,
				Message:   getValidationMessage(e),
			})
		}
	}

	return validationErrors
}
