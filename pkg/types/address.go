package types

import "strings"

// Address is the service location captured on a booking. Stored as jsonb.
type Address struct {
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

// Validate checks the fields a dispatchable service address requires.
func (a Address) Validate() error {
	switch {
	case strings.TrimSpace(a.Line1) == "":
		return errMissing("line1")
	case strings.TrimSpace(a.City) == "":
		return errMissing("city")
	case strings.TrimSpace(a.State) == "":
		return errMissing("state")
	case strings.TrimSpace(a.PostalCode) == "":
		return errMissing("postal_code")
	}
	return nil
}

type missingFieldError string

func (m missingFieldError) Error() string {
	return "address: missing " + string(m)
}

func errMissing(field string) error {
	return missingFieldError(field)
}
