// Package redact masks sensitive card data for logs and displays.
package redact

import "strings"

// MaskPAN keeps the first six and last four digits of a PAN. Short values
// are fully masked.
func MaskPAN(pan string) string {
	if len(pan) <= 10 {
		return "******"
	}
	return pan[:6] + strings.Repeat("*", 6) + pan[len(pan)-4:]
}
