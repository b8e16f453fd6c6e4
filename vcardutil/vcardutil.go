// Package vcardutil implements the vCard side of the object transformation
// layer: raw body to contact record, fresh-build, and the
// parse-modify-serialize editor that keeps photos, grouped properties and
// custom X- properties intact across updates.
package vcardutil

import (
	"bytes"
	"fmt"
	"strings"

	govcard "github.com/emersion/go-vcard"
	"github.com/google/uuid"
	"github.com/samber/mo"
)

// ContactRecord is the domain record for one vCard. Raw carries the body the
// record was parsed from; the editor depends on it.
type ContactRecord struct {
	UID           string
	FormattedName string
	GivenName     string
	FamilyName    string
	Emails        []string
	Phones        []string
	Organization  string
	Raw           string
	ETag          string
	URL           string
}

// ContactInput is the fresh-build input.
type ContactInput struct {
	Name         string
	Email        string
	Phone        string
	Organization string
}

// Changes is the editor's change set. Absent options leave the corresponding
// property untouched.
type Changes struct {
	Name         mo.Option[string]
	Email        mo.Option[string]
	Phone        mo.Option[string]
	Organization mo.Option[string]
}

// Transform parses a raw vCard body into the domain record. Versions 3.0 and
// 4.0 are accepted.
func Transform(raw, objectURL, etag string) (*ContactRecord, error) {
	card, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse vCard body: %w", err)
	}

	rec := &ContactRecord{
		UID:           card.Value(govcard.FieldUID),
		FormattedName: card.Value(govcard.FieldFormattedName),
		Organization:  card.Value(govcard.FieldOrganization),
		Raw:           raw,
		ETag:          etag,
		URL:           objectURL,
	}
	if rec.UID == "" {
		return nil, fmt.Errorf("missing UID")
	}

	if name := card.Name(); name != nil {
		rec.GivenName = name.GivenName
		rec.FamilyName = name.FamilyName
	}
	for _, email := range card.Values(govcard.FieldEmail) {
		rec.Emails = append(rec.Emails, email)
	}
	for _, tel := range card.Values(govcard.FieldTelephone) {
		rec.Phones = append(rec.Phones, tel)
	}

	return rec, nil
}

// Build emits a VERSION:3.0 vCard with a newly generated UID. The structured
// name is derived from the formatted name: family is the last
// whitespace-separated word, given is everything before it.
func Build(input ContactInput) (string, error) {
	if strings.TrimSpace(input.Name) == "" {
		return "", fmt.Errorf("contact name is required")
	}

	card := make(govcard.Card)
	card.SetValue(govcard.FieldVersion, "3.0")
	card.SetValue(govcard.FieldUID, uuid.New().String())
	card.SetValue(govcard.FieldFormattedName, input.Name)

	given, family := splitName(input.Name)
	card.SetValue(govcard.FieldName, structuredName(given, family))

	if input.Email != "" {
		card.SetValue(govcard.FieldEmail, input.Email)
	}
	if input.Phone != "" {
		card.SetValue(govcard.FieldTelephone, input.Phone)
	}
	if input.Organization != "" {
		card.SetValue(govcard.FieldOrganization, input.Organization)
	}

	return encode(card)
}

// Update is the parse-modify-serialize editor for vCards. Only the fields
// present in changes are touched; PHOTO with its encoding parameters, grouped
// properties (item1.EMAIL + item1.X-ABLabel), custom X- properties and the
// original VERSION all ride through the parser untouched.
func Update(raw string, changes Changes) (string, error) {
	card, err := decode(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse vCard body: %w", err)
	}

	if name, ok := changes.Name.Get(); ok {
		setFirstValue(card, govcard.FieldFormattedName, name)
		given, family := splitName(name)
		setFirstValue(card, govcard.FieldName, structuredName(given, family))
	}
	if email, ok := changes.Email.Get(); ok {
		setFirstValue(card, govcard.FieldEmail, email)
	}
	if phone, ok := changes.Phone.Get(); ok {
		setFirstValue(card, govcard.FieldTelephone, phone)
	}
	if org, ok := changes.Organization.Get(); ok {
		setFirstValue(card, govcard.FieldOrganization, org)
	}

	return encode(card)
}

// setFirstValue rewrites the value of the first field instance, keeping its
// parameters and group, or adds the field when absent.
func setFirstValue(card govcard.Card, field, value string) {
	if fields := card[field]; len(fields) > 0 {
		fields[0].Value = value
		return
	}
	card.SetValue(field, value)
}

// structuredName renders an N value: family;given;additional;prefix;suffix.
func structuredName(given, family string) string {
	return family + ";" + given + ";;;"
}

// splitName derives (given, family) from a formatted name: family is the
// last whitespace-separated word, given is everything before it.
func splitName(formatted string) (given, family string) {
	parts := strings.Fields(formatted)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return "", parts[0]
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}

func decode(raw string) (govcard.Card, error) {
	// Normalize line endings to CRLF as required by RFC 6350.
	content := strings.ReplaceAll(raw, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\n", "\r\n")
	return govcard.NewDecoder(strings.NewReader(content)).Decode()
}

func encode(card govcard.Card) (string, error) {
	var buf bytes.Buffer
	if err := govcard.NewEncoder(&buf).Encode(card); err != nil {
		return "", fmt.Errorf("failed to encode vCard: %w", err)
	}
	return buf.String(), nil
}
