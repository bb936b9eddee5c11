package rbac

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// safeText matches names that survive directory encoding untouched:
// alphanumerics plus the simple symbols .,:;-_ and spaces.
var safeText = regexp.MustCompile(`^[A-Za-z0-9 .,:;_-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("safetext", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || safeText.MatchString(s)
	})
	return v
}

// ValidateEntity applies struct-tag validation to any engine entity,
// wrapping failures in ErrInvalidInput.
func ValidateEntity(entity any) error {
	if err := validate.Struct(entity); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// validateSdSet layers the cross-field rules struct tags cannot express:
// cardinality must leave at least one member unholdable and not exceed
// the member count.
func validateSdSet(set SDSet) error {
	if err := ValidateEntity(set); err != nil {
		return err
	}
	if set.Cardinality > len(set.Members) {
		return fmt.Errorf("%w: %s set %s: cardinality %d exceeds member count %d",
			ErrInvalidInput, set.Kind, set.Name, set.Cardinality, len(set.Members))
	}
	return nil
}

// validateConstraint rejects inverted windows.
func validateConstraint(c *TemporalConstraint) error {
	if c == nil {
		return nil
	}
	if err := ValidateEntity(c); err != nil {
		return err
	}
	if c.BeginDate != nil && c.EndDate != nil && c.EndDate.Before(*c.BeginDate) {
		return fmt.Errorf("%w: end date precedes begin date", ErrInvalidInput)
	}
	if c.BeginLockDate != nil && c.EndLockDate != nil && c.EndLockDate.Before(*c.BeginLockDate) {
		return fmt.Errorf("%w: lock end precedes lock begin", ErrInvalidInput)
	}
	if c.BeginTime != nil && c.EndTime != nil && c.EndTime.Minutes() < c.BeginTime.Minutes() {
		return fmt.Errorf("%w: end time precedes begin time", ErrInvalidInput)
	}
	return nil
}
