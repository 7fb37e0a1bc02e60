package entities

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrInvalidPhone is returned for numbers that cannot be parsed or are not
// valid for their region.
var ErrInvalidPhone = errors.New("invalid phone number")

// Contact is a person the bot can call.
type Contact struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Company    string             `json:"company" bson:"company"`
	Firstname  string             `json:"firstname" bson:"firstname"`
	Lastname   string             `json:"lastname" bson:"lastname"`
	Phone      string             `json:"phone" bson:"phone"`
	Email      string             `json:"email,omitempty" bson:"email,omitempty"`
	Salutation string             `json:"salutation,omitempty" bson:"salutation,omitempty"`
	Title      string             `json:"title,omitempty" bson:"title,omitempty"`
	Role       string             `json:"role,omitempty" bson:"role,omitempty"`
	CreatedAt  time.Time          `json:"created_at" bson:"created_at"`
}

// NormalizePhone parses a phone number and formats it as E.164. Numbers
// without a country prefix are interpreted in defaultRegion.
func NormalizePhone(raw, defaultRegion string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), defaultRegion)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPhone, raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Normalize validates the contact and brings the phone number into E.164
// format.
func (c *Contact) Normalize(defaultRegion string) error {
	if c.Company == "" {
		return errors.New("company is required")
	}
	if c.Firstname == "" {
		return errors.New("firstname is required")
	}
	if c.Lastname == "" {
		return errors.New("lastname is required")
	}
	phone, err := NormalizePhone(c.Phone, defaultRegion)
	if err != nil {
		return err
	}
	c.Phone = phone
	if c.Email != "" {
		addr, err := mail.ParseAddress(c.Email)
		if err != nil {
			return fmt.Errorf("invalid email %q: %w", c.Email, err)
		}
		c.Email = addr.Address
	}
	return nil
}

// Fields returns the non-empty contact fields by name. These are passed as
// stream parameters and substituted into prompts.
func (c *Contact) Fields() map[string]string {
	fields := map[string]string{
		"company":    c.Company,
		"firstname":  c.Firstname,
		"lastname":   c.Lastname,
		"phone":      c.Phone,
		"email":      c.Email,
		"salutation": c.Salutation,
		"title":      c.Title,
		"role":       c.Role,
	}
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}
	return fields
}

// ContactFromFields is the inverse of Fields. Unknown keys are ignored.
func ContactFromFields(fields map[string]string) *Contact {
	return &Contact{
		Company:    fields["company"],
		Firstname:  fields["firstname"],
		Lastname:   fields["lastname"],
		Phone:      fields["phone"],
		Email:      fields["email"],
		Salutation: fields["salutation"],
		Title:      fields["title"],
		Role:       fields["role"],
	}
}

// FullName joins first and last name.
func (c *Contact) FullName() string {
	return strings.TrimSpace(c.Firstname + " " + c.Lastname)
}
