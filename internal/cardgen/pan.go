package cardgen

import (
	"fmt"
	"strings"
)

const (
	groupCount = 4
	groupLen   = 4
	digitCount = groupCount * groupLen

	// CardNumberLen is the formatted length: 16 digits plus 3 separators.
	CardNumberLen = digitCount + groupCount - 1
	// CVVLen is the number of digits in a CVV.
	CVVLen = 3
)

// FormatGroups splits a 16-digit string into "NNNN NNNN NNNN NNNN".
func FormatGroups(digits string) (string, error) {
	if len(digits) != digitCount || !IsDigits(digits) {
		return "", fmt.Errorf("card number must be %d digits", digitCount)
	}
	groups := make([]string, 0, groupCount)
	for i := 0; i < digitCount; i += groupLen {
		groups = append(groups, digits[i:i+groupLen])
	}
	return strings.Join(groups, " "), nil
}

// ValidateCardNumber checks the grouped form produced by the Generator.
func ValidateCardNumber(number string) error {
	if number == "" {
		return fmt.Errorf("card number is required")
	}
	if len(number) != CardNumberLen {
		return fmt.Errorf("card number must be %d characters (got %d)", CardNumberLen, len(number))
	}
	for i := 0; i < len(number); i++ {
		if (i+1)%(groupLen+1) == 0 {
			if number[i] != ' ' {
				return fmt.Errorf("card number groups must be separated by single spaces")
			}
			continue
		}
		if number[i] < '0' || number[i] > '9' {
			return fmt.Errorf("card number must contain digits only")
		}
	}
	return nil
}

// ValidateCVV checks for exactly three ASCII digits.
func ValidateCVV(cvv string) error {
	if len(cvv) != CVVLen || !IsDigits(cvv) {
		return fmt.Errorf("cvv must be %d digits", CVVLen)
	}
	return nil
}

func IsDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// LastN / MaskPAN are shared with the issuer for logs and views.
func LastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func MaskPAN(pan string) string {
	cleaned := NormalizePAN(pan)
	n := len(cleaned)
	if n == 0 {
		return ""
	}
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	if n < 10 {
		return strings.Repeat("*", n-4) + cleaned[n-4:]
	}
	return cleaned[:6] + strings.Repeat("*", n-10) + cleaned[n-4:]
}

// NormalizePAN strips spaces, dashes and tabs.
func NormalizePAN(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-':
			return -1
		default:
			return r
		}
	}, s)
}
