package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	cardNumberRe = regexp.MustCompile(`^\d{13,19}$`)
	cvcRe        = regexp.MustCompile(`^\d{3,4}$`)
	expirationRe = regexp.MustCompile(`^\d{2}/\d{2}$`)
)

// PaymentDetails is validated for shape only. Nothing here is stored, charged
// or transmitted onward; the checkout accepts or rejects purely on format and
// expiry.
type PaymentDetails struct {
	FullName   string `json:"full_name"`
	CardNumber string `json:"card_number"`
	Expiration string `json:"expiration"`
	CVC        string `json:"cvc"`
}

// Validate appends field errors to v. now anchors the expiry check to the
// current month.
func (p PaymentDetails) Validate(v *ValidationError, now time.Time) {
	if n := len(strings.TrimSpace(p.FullName)); n < 2 || n > 80 {
		v.Add("payment.full_name", "Full name must be between 2 and 80 characters.")
	}
	if !cardNumberRe.MatchString(p.CardNumber) {
		v.Add("payment.card_number", "Card number must be 13 to 19 digits.")
	}
	if !cvcRe.MatchString(p.CVC) {
		v.Add("payment.cvc", "CVC must be 3 or 4 digits.")
	}
	if msg := expirationError(p.Expiration, now); msg != "" {
		v.Add("payment.expiration", msg)
	}
}

func expirationError(expiration string, now time.Time) string {
	if !expirationRe.MatchString(expiration) {
		return "Expiration must be in MM/YY format."
	}
	month, _ := strconv.Atoi(expiration[:2])
	year, _ := strconv.Atoi(expiration[3:])

	if month < 1 || month > 12 {
		return "Expiration month must be between 01 and 12."
	}

	currentYear := now.Year() % 100
	currentMonth := int(now.Month())
	if year < currentYear || (year == currentYear && month < currentMonth) {
		return "Card is expired."
	}
	return ""
}
