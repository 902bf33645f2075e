package httputil

import (
	"math/big"
	"reflect"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator with frog's custom rules:
//
//	evmaddr  0x-prefixed 20 byte hex address
//	uintstr  base-10 integer string in uint256 range
//	posint   positive base-10 integer string in uint256 range
//	hexdata  0x-prefixed hex bytes
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("evmaddr", func(fl validator.FieldLevel) bool {
			return IsAddress(fl.Field().String())
		})
		_ = v.RegisterValidation("uintstr", func(fl validator.FieldLevel) bool {
			_, ok := ParseUint(fl.Field().String())
			return ok
		})
		_ = v.RegisterValidation("posint", func(fl validator.FieldLevel) bool {
			n, ok := ParseUint(fl.Field().String())
			return ok && n.Sign() > 0
		})
		_ = v.RegisterValidation("hexdata", func(fl validator.FieldLevel) bool {
			_, err := hexutil.Decode(fl.Field().String())
			return err == nil
		})
		validate = v
	})
	return validate
}

// ValidateStruct returns field name to message for every failing rule.
func ValidateStruct(v interface{}) map[string]string {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"body": err.Error()}
	}
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		out[fe.Field()] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "evmaddr":
		return "must be a 0x-prefixed 20 byte address"
	case "uintstr":
		return "must be a non-negative integer string below 2^256"
	case "posint":
		return "must be a positive integer string below 2^256"
	case "hexdata":
		return "must be 0x-prefixed hex"
	case "uuid", "uuid4":
		return "must be a UUID"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// IsAddress reports whether s is a 0x-prefixed 20 byte hex address.
func IsAddress(s string) bool {
	return len(s) == 42 && strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// ParseUint parses a base-10 integer string with no sign or spaces that
// fits in a uint256.
func ParseUint(s string) (*big.Int, bool) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.BitLen() > 256 {
		return nil, false
	}
	return n, true
}
