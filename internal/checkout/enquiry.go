package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidEnquiry = errors.New("invalid enquiry")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Enquiry is the contact, organization and delivery address part of an order.
type Enquiry struct {
	ContactName  string `json:"contactName" validate:"required,max=120"`
	Email        string `json:"email" validate:"required,email,max=254"`
	Phone        string `json:"phone" validate:"required,min=6,max=32"`
	Organization string `json:"organization" validate:"required,max=200"`
	Designation  string `json:"designation,omitempty" validate:"omitempty,max=120"`
	AddressLine1 string `json:"addressLine1" validate:"required,max=200"`
	AddressLine2 string `json:"addressLine2,omitempty" validate:"omitempty,max=200"`
	City         string `json:"city" validate:"required,max=100"`
	State        string `json:"state" validate:"required,max=100"`
	PostalCode   string `json:"postalCode" validate:"required,max=16"`
	Country      string `json:"country" validate:"required,max=64"`
	Notes        string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

func (e Enquiry) trimmed() Enquiry {
	e.ContactName = strings.TrimSpace(e.ContactName)
	e.Email = strings.TrimSpace(e.Email)
	e.Phone = strings.TrimSpace(e.Phone)
	e.Organization = strings.TrimSpace(e.Organization)
	e.Designation = strings.TrimSpace(e.Designation)
	e.AddressLine1 = strings.TrimSpace(e.AddressLine1)
	e.AddressLine2 = strings.TrimSpace(e.AddressLine2)
	e.City = strings.TrimSpace(e.City)
	e.State = strings.TrimSpace(e.State)
	e.PostalCode = strings.TrimSpace(e.PostalCode)
	e.Country = strings.TrimSpace(e.Country)
	e.Notes = strings.TrimSpace(e.Notes)
	return e
}

// Validate returns an error wrapping ErrInvalidEnquiry that names every
// offending field.
func (e Enquiry) Validate() error {
	err := validate.Struct(e)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidEnquiry, strings.Join(fields, ", "))
}
