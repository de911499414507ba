package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Date is a calendar date (no time component) serialized as yyyy-mm-dd.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// ParseDate parses a yyyy-mm-dd string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

// String returns the date in yyyy-mm-dd form.
func (d Date) String() string {
	return d.Format(dateLayout)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date %q (want yyyy-mm-dd): %w", s, err)
	}
	d.Time = t
	return nil
}

// EventDetails is the tagged-union interface over type-specific event
// payloads. The lifecycle service populates the variant matching the
// declared event type at creation time; the payload is opaque to the
// state machine from then on.
type EventDetails interface {
	// Validate checks the variant's field constraints.
	Validate() error
	// PayloadMap renders the variant into the persisted payload shape.
	PayloadMap() map[string]interface{}
}

// DividendDetails carries the fields of a cash dividend event.
type DividendDetails struct {
	Amount      json.Number `json:"amount"`
	ExDate      Date        `json:"ex_date"`
	RecordDate  Date        `json:"record_date"`
	PaymentDate Date        `json:"payment_date"`
	Currency    string      `json:"currency"`
}

// Validate implements EventDetails.
func (d DividendDetails) Validate() error {
	amt, err := d.Amount.Float64()
	if err != nil || amt <= 0 {
		return fmt.Errorf("amount must be a positive number")
	}
	if d.ExDate.IsZero() || d.RecordDate.IsZero() || d.PaymentDate.IsZero() {
		return fmt.Errorf("ex_date, record_date and payment_date are required")
	}
	if d.RecordDate.Before(d.ExDate.Time) {
		return fmt.Errorf("record_date must be on or after ex_date")
	}
	if d.PaymentDate.Before(d.RecordDate.Time) {
		return fmt.Errorf("payment_date must be on or after record_date")
	}
	return validateCurrency(d.Currency)
}

// PayloadMap implements EventDetails.
func (d DividendDetails) PayloadMap() map[string]interface{} {
	return map[string]interface{}{
		"currency":     d.Currency,
		"amount":       d.Amount.String(),
		"ex_date":      d.ExDate.String(),
		"record_date":  d.RecordDate.String(),
		"payment_date": d.PaymentDate.String(),
	}
}

// SplitDetails carries the fields of a stock split event.
type SplitDetails struct {
	RatioFrom     int    `json:"split_ratio_from"`
	RatioTo       int    `json:"split_ratio_to"`
	EffectiveDate Date   `json:"effective_date"`
	Currency      string `json:"currency"`
}

// Validate implements EventDetails.
func (s SplitDetails) Validate() error {
	if s.RatioFrom <= 0 || s.RatioTo <= 0 {
		return fmt.Errorf("split ratios must be positive")
	}
	if s.RatioFrom == s.RatioTo {
		return fmt.Errorf("split_ratio_to must differ from split_ratio_from")
	}
	if s.EffectiveDate.IsZero() {
		return fmt.Errorf("effective_date is required")
	}
	return validateCurrency(s.Currency)
}

// PayloadMap implements EventDetails.
func (s SplitDetails) PayloadMap() map[string]interface{} {
	return map[string]interface{}{
		"currency":         s.Currency,
		"split_ratio_from": s.RatioFrom,
		"split_ratio_to":   s.RatioTo,
		"effective_date":   s.EffectiveDate.String(),
	}
}

// MergerDetails carries the fields of a merger event.
type MergerDetails struct {
	TargetSymbol  string      `json:"target_symbol"`
	ExchangeRatio json.Number `json:"exchange_ratio"`
	CashComponent json.Number `json:"cash_component"`
	EffectiveDate Date        `json:"effective_date"`
	Currency      string      `json:"currency"`
}

// Validate implements EventDetails.
func (m MergerDetails) Validate() error {
	if m.TargetSymbol == "" || len(m.TargetSymbol) > 20 {
		return fmt.Errorf("target_symbol must be 1-20 characters")
	}
	ratio, err := m.ExchangeRatio.Float64()
	if err != nil || ratio <= 0 {
		return fmt.Errorf("exchange_ratio must be a positive number")
	}
	if m.CashComponent != "" {
		cash, err := m.CashComponent.Float64()
		if err != nil || cash < 0 {
			return fmt.Errorf("cash_component must be a non-negative number")
		}
	}
	if m.EffectiveDate.IsZero() {
		return fmt.Errorf("effective_date is required")
	}
	return validateCurrency(m.Currency)
}

// PayloadMap implements EventDetails.
func (m MergerDetails) PayloadMap() map[string]interface{} {
	cash := m.CashComponent.String()
	if cash == "" {
		cash = "0"
	}
	return map[string]interface{}{
		"currency":       m.Currency,
		"target_symbol":  m.TargetSymbol,
		"exchange_ratio": m.ExchangeRatio.String(),
		"cash_component": cash,
		"effective_date": m.EffectiveDate.String(),
	}
}

// BasicDetails carries the fields shared by event types with no
// type-specific data (spin-offs, rights issues, delistings).
type BasicDetails struct {
	Currency string `json:"currency"`
}

// Validate implements EventDetails.
func (b BasicDetails) Validate() error {
	return validateCurrency(b.Currency)
}

// PayloadMap implements EventDetails.
func (b BasicDetails) PayloadMap() map[string]interface{} {
	return map[string]interface{}{
		"currency": b.Currency,
	}
}

func validateCurrency(c string) error {
	if len(c) != 3 {
		return fmt.Errorf("currency must be a 3-letter code")
	}
	return nil
}
