// Package sensor implements derived boolean sensors: each sensor evaluates
// user-authored expressions against upstream state, debounces value flips
// through optional delay-on/delay-off windows, and publishes committed
// snapshots atomically.
package sensor

import (
	"fmt"
	"time"

	"github.com/c360/sensorkit/errors"
	"github.com/c360/sensorkit/expression"
)

// Definition is the immutable description of one sensor, fixed at
// construction. Expressions are already compiled; raw sources live in config.
type Definition struct {
	// Name identifies the sensor and its publish subject.
	Name string

	// FriendlyName is display metadata carried opaquely into snapshots.
	FriendlyName string

	// DeviceClass is display metadata carried opaquely into snapshots.
	DeviceClass string

	// Value produces the sensor's boolean value. Required.
	Value expression.Expr

	// Icon, Picture and Availability are optional display expressions,
	// evaluated as a short-circuiting chain after the value.
	Icon         expression.Expr
	Picture      expression.Expr
	Availability expression.Expr

	// Attributes maps attribute name to its expression. Evaluated
	// independently; the published attribute map is replaced wholesale.
	Attributes map[string]expression.Expr

	// ExplicitDependencies, when set, bypasses reference extraction and is
	// used verbatim as the subscription key set.
	ExplicitDependencies []string

	// DelayOn and DelayOff gate commits of true and false respectively.
	// Zero means commit immediately.
	DelayOn  time.Duration
	DelayOff time.Duration
}

// Validate checks the definition for construction errors
func (d *Definition) Validate() error {
	if d.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Definition", "Validate", "sensor name is required")
	}
	if d.Value == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Definition", "Validate", fmt.Sprintf("sensor %s has no value expression", d.Name))
	}
	if d.DelayOn < 0 || d.DelayOff < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Definition", "Validate", fmt.Sprintf("sensor %s has a negative delay", d.Name))
	}
	return nil
}

// delayFor returns the commit delay for flipping to the given value
func (d *Definition) delayFor(target State) time.Duration {
	if target == StateOn {
		return d.DelayOn
	}
	return d.DelayOff
}
