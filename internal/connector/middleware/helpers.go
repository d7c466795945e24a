package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// registerHelpers installs the built-in functions available to every
// script middleware invocation, per spec.md §4.5's helper list.
func registerHelpers(vm *goja.Runtime) {
	must := func(name string, fn func(goja.FunctionCall) goja.Value) {
		if err := vm.Set(name, fn); err != nil {
			panic(err)
		}
	}

	must("nowMillis", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(time.Now().UnixMilli())
	})

	must("sha256Hex", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		sum := sha256.Sum256([]byte(call.Arguments[0].String()))
		return vm.ToValue(hex.EncodeToString(sum[:]))
	})

	must("maskEmail", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		return vm.ToValue(maskEmail(call.Arguments[0].String()))
	})

	must("maskPhone", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		return vm.ToValue(maskPhone(call.Arguments[0].String()))
	})

	must("truncateToYear", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		return vm.ToValue(truncateToYear(call.Arguments[0].String()))
	})
}

// maskEmail keeps the first character of the local part and the domain,
// replacing the rest of the local part with asterisks: "jdoe@example.com"
// -> "j***@example.com".
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return email
	}
	local, domain := email[:at], email[at:]
	return local[:1] + strings.Repeat("*", len(local)-1) + domain
}

// maskPhone keeps the last 4 characters, replacing every preceding
// character (a leading "+" included) with an asterisk:
// "+15551234567" -> "********4567".
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	keep := phone[len(phone)-4:]
	return strings.Repeat("*", len(phone)-4) + keep
}

// truncateToYear reduces an ISO-8601 date/timestamp string to its year,
// e.g. "1990-04-12T00:00:00Z" -> "1990".
func truncateToYear(iso string) string {
	if len(iso) < 4 {
		return iso
	}
	return iso[:4]
}
