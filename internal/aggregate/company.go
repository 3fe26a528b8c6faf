package aggregate

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// maxCompanyRunes bounds the length of a company identifier.
const maxCompanyRunes = 200

// CompanyKey validates a company identifier and returns its normalized key.
// Identifiers that differ only in case, Unicode compatibility form or
// surrounding/repeated whitespace share a key.
func CompanyKey(companyID string) (string, error) {
	trimmed := strings.TrimSpace(companyID)
	if trimmed == "" {
		return "", eris.Wrap(ErrInvalidCompany, "empty identifier")
	}
	if !utf8.ValidString(trimmed) {
		return "", eris.Wrap(ErrInvalidCompany, "identifier is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(trimmed); n > maxCompanyRunes {
		return "", eris.Wrapf(ErrInvalidCompany, "identifier has %d characters, max %d", n, maxCompanyRunes)
	}

	hasAlnum := false
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", eris.Wrapf(ErrInvalidCompany, "identifier contains control character %U", r)
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasAlnum = true
		}
	}
	if !hasAlnum {
		return "", eris.Wrapf(ErrInvalidCompany, "identifier %q has no letters or digits", trimmed)
	}

	key := cases.Fold().String(norm.NFKC.String(trimmed))
	return strings.Join(strings.Fields(key), " "), nil
}

// foldKey normalizes free text used as a collection key.
func foldKey(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(norm.NFKC.String(s))), " ")
}
