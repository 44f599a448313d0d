package catalog

import (
	"errors"
	"fmt"
)

const TotalSteps = 10

var (
	ErrUnknownStep      = errors.New("unknown step")
	ErrInvalidField     = errors.New("field does not belong to step")
	ErrStepNotSkippable = errors.New("step is not skippable")
)

// StepDefinition describes one stage of the onboarding wizard. The catalog
// is fixed at compile time; there is no admin surface for editing steps.
type StepDefinition struct {
	Number         int
	Name           string
	RequiredFields []string
	OptionalFields []string
	Skippable      bool
}

// FieldKeys returns required and optional keys in catalog order.
func (d StepDefinition) FieldKeys() []string {
	keys := make([]string, 0, len(d.RequiredFields)+len(d.OptionalFields))
	keys = append(keys, d.RequiredFields...)
	keys = append(keys, d.OptionalFields...)
	return keys
}

func (d StepDefinition) HasField(key string) bool {
	for _, k := range d.RequiredFields {
		if k == key {
			return true
		}
	}
	for _, k := range d.OptionalFields {
		if k == key {
			return true
		}
	}
	return false
}

var steps = [TotalSteps]StepDefinition{
	{
		Number:         1,
		Name:           "basic_info",
		RequiredFields: []string{"villaName", "bedrooms"},
		OptionalFields: []string{"bathrooms", "maxGuests", "description"},
	},
	{
		Number:         2,
		Name:           "location",
		RequiredFields: []string{"address", "city", "country"},
		OptionalFields: []string{"latitude", "longitude"},
	},
	{
		Number:         3,
		Name:           "amenities",
		RequiredFields: []string{"amenities"},
		OptionalFields: []string{"customAmenities"},
	},
	{
		Number:         4,
		Name:           "photos",
		RequiredFields: []string{"coverPhoto"},
		OptionalFields: []string{"galleryPhotos"},
	},
	{
		Number:         5,
		Name:           "ota_credentials",
		RequiredFields: []string{"otaProvider", "otaUsername"},
		OptionalFields: []string{"otaPropertyID"},
		Skippable:      true,
	},
	{
		Number:         6,
		Name:           "pricing",
		RequiredFields: []string{"nightlyRate", "currency"},
		OptionalFields: []string{"cleaningFee", "securityDeposit"},
	},
	{
		Number:         7,
		Name:           "availability",
		RequiredFields: []string{"checkInTime", "checkOutTime"},
		OptionalFields: []string{"minStayNights"},
	},
	{
		Number:         8,
		Name:           "policies",
		RequiredFields: []string{"cancellationPolicy"},
		OptionalFields: []string{"houseRules", "petPolicy"},
		Skippable:      true,
	},
	{
		Number:         9,
		Name:           "bank_details",
		RequiredFields: []string{"accountHolder", "iban"},
		OptionalFields: []string{"bankName"},
	},
	{
		Number:         10,
		Name:           "review_submit",
		RequiredFields: []string{"termsAccepted"},
	},
}

// TotalFields is the catalog-wide field count, used as the constant
// denominator on session rows.
var TotalFields = countFields()

func countFields() int {
	n := 0
	for _, s := range steps {
		n += len(s.RequiredFields) + len(s.OptionalFields)
	}
	return n
}

// Definition returns the step definition for a 1-based step number.
func Definition(step int) (StepDefinition, error) {
	if step < 1 || step > TotalSteps {
		return StepDefinition{}, fmt.Errorf("%w: %d", ErrUnknownStep, step)
	}
	return steps[step-1], nil
}

// ValidateFieldKey checks that key belongs to the step's field set.
func ValidateFieldKey(step int, key string) error {
	def, err := Definition(step)
	if err != nil {
		return err
	}
	if !def.HasField(key) {
		return fmt.Errorf("%w: %q (step %d)", ErrInvalidField, key, step)
	}
	return nil
}

// All returns every step definition in wizard order.
func All() []StepDefinition {
	out := make([]StepDefinition, TotalSteps)
	copy(out, steps[:])
	return out
}
