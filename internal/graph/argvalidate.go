package graph

import (
	"fmt"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/tasktreehq/tt/internal/recipe"
	"github.com/tasktreehq/tt/internal/ttserr"
)

// validateArg checks a resolved string value against its ArgSpec's type,
// choices, and min/max.
func validateArg(taskName string, spec recipe.ArgSpec, value string) error {
	if spec.Exported {
		return nil // exported args are always strings, no type to check
	}

	if err := checkType(spec.Type, value); err != nil {
		return &ttserr.Error{Kind: ttserr.KindArgTypeMismatch, Task: taskName, Variable: spec.Name,
			Message: fmt.Sprintf("value %q is not a valid %s: %v", value, spec.Type, err)}
	}

	if len(spec.Choices) > 0 {
		found := false
		for _, c := range spec.Choices {
			if c == value {
				found = true
				break
			}
		}
		if !found {
			return &ttserr.Error{Kind: ttserr.KindArgNotInChoices, Task: taskName, Variable: spec.Name,
				Message: fmt.Sprintf("value %q is not one of %v", value, spec.Choices)}
		}
	}

	if spec.HasMin || spec.HasMax {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return &ttserr.Error{Kind: ttserr.KindArgOutOfRange, Task: taskName, Variable: spec.Name,
				Message: fmt.Sprintf("value %q is not numeric, cannot check min/max", value)}
		}
		if spec.HasMin && f < spec.Min {
			return &ttserr.Error{Kind: ttserr.KindArgOutOfRange, Task: taskName, Variable: spec.Name,
				Message: fmt.Sprintf("value %v is below min %v", f, spec.Min)}
		}
		if spec.HasMax && f > spec.Max {
			return &ttserr.Error{Kind: ttserr.KindArgOutOfRange, Task: taskName, Variable: spec.Name,
				Message: fmt.Sprintf("value %v is above max %v", f, spec.Max)}
		}
	}
	return nil
}

func checkType(t recipe.ArgType, value string) error {
	switch t {
	case recipe.ArgStr, recipe.ArgPath, "":
		return nil
	case recipe.ArgInt:
		_, err := strconv.ParseInt(value, 10, 64)
		return err
	case recipe.ArgFloat:
		_, err := strconv.ParseFloat(value, 64)
		return err
	case recipe.ArgBool:
		_, err := strconv.ParseBool(value)
		return err
	case recipe.ArgDateTime:
		_, err := time.Parse(time.RFC3339, value)
		return err
	case recipe.ArgIP:
		if net.ParseIP(value) == nil {
			return fmt.Errorf("not an IP address")
		}
		return nil
	case recipe.ArgIPv4:
		ip := net.ParseIP(value)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("not an IPv4 address")
		}
		return nil
	case recipe.ArgIPv6:
		ip := net.ParseIP(value)
		if ip == nil || ip.To4() != nil {
			return fmt.Errorf("not an IPv6 address")
		}
		return nil
	case recipe.ArgEmail:
		_, err := mail.ParseAddress(value)
		return err
	case recipe.ArgHostname:
		return checkHostname(value)
	default:
		return fmt.Errorf("unknown arg type %q", t)
	}
}

func checkHostname(value string) error {
	if value == "" || len(value) > 253 {
		return fmt.Errorf("invalid hostname length")
	}
	for _, label := range strings.Split(value, ".") {
		if label == "" || len(label) > 63 {
			return fmt.Errorf("invalid hostname label %q", label)
		}
		for _, r := range label {
			if !(r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return fmt.Errorf("invalid hostname character %q", r)
			}
		}
	}
	return nil
}
