// Package naming converts between storage column names (snake_case) and
// application property names (camelCase).
package naming

import (
	"strings"

	"github.com/go-openapi/inflect"
)

// ToProperty converts a column name such as "created_at" into "createdAt".
func ToProperty(column string) string {
	if column == "" {
		return ""
	}
	return inflect.CamelizeDownFirst(column)
}

// ToColumn converts a property name such as "createdAt" into "created_at".
func ToColumn(property string) string {
	if property == "" {
		return ""
	}
	return inflect.Underscore(property)
}

// ToMethodSuffix converts a property into the suffix used by by-property
// operations: "createdAt" becomes "CreatedAt".
func ToMethodSuffix(property string) string {
	if property == "" {
		return ""
	}
	return inflect.Camelize(property)
}

// FromMethodSuffix is the inverse of ToMethodSuffix: "CreatedAt" becomes "createdAt".
func FromMethodSuffix(suffix string) string {
	if suffix == "" {
		return ""
	}
	return strings.ToLower(suffix[:1]) + suffix[1:]
}
