package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ConditionKind names a variant of the condition tree.
type ConditionKind string

const (
	ConditionPriceThreshold   ConditionKind = "price_threshold"
	ConditionGasThreshold     ConditionKind = "gas_threshold"
	ConditionTimeBased        ConditionKind = "time_based"
	ConditionBalanceThreshold ConditionKind = "balance_threshold"
	ConditionExpression       ConditionKind = "expression"
	ConditionAnd              ConditionKind = "and"
	ConditionOr               ConditionKind = "or"
)

// Condition is a node of a workflow's condition tree. The set of variants is closed:
// PriceThreshold, GasThreshold, TimeBased, BalanceThreshold, Expression, CompositeAnd,
// CompositeOr and UnknownCondition.
type Condition interface {
	Kind() ConditionKind
	condition()
}

// Comparison is the direction of a threshold check.
type Comparison string

const (
	ComparisonAbove Comparison = "above"
	ComparisonBelow Comparison = "below"
)

// Holds compares value against threshold. Both comparisons are strict.
func (c Comparison) Holds(value, threshold float64) bool {
	switch c {
	case ComparisonAbove:
		return value > threshold
	case ComparisonBelow:
		return value < threshold
	default:
		return false
	}
}

// Schedule is the cadence of a time based condition.
type Schedule string

const (
	ScheduleHourly  Schedule = "hourly"
	ScheduleDaily   Schedule = "daily"
	ScheduleWeekly  Schedule = "weekly"
	ScheduleMonthly Schedule = "monthly"
	ScheduleCron    Schedule = "cron"
)

// PriceThreshold holds when the spot price of Token, quoted in Currency, crosses Threshold.
type PriceThreshold struct {
	Token      string     `json:"token"      validate:"required"`
	Comparison Comparison `json:"comparison" validate:"required,oneof=above below"`
	Threshold  float64    `json:"threshold"  validate:"gte=0"`
	Currency   string     `json:"currency"   validate:"required"`
}

// GasThreshold holds when the gas price of Network, in gwei, crosses Threshold.
type GasThreshold struct {
	Network    string     `json:"network"    validate:"required"`
	Comparison Comparison `json:"comparison" validate:"required,oneof=above below"`
	Threshold  float64    `json:"threshold"  validate:"gte=0"`
}

// TimeBased holds at most once per schedule period, measured from LastFired.
// Expression is only used with the cron schedule and takes a standard 5-field cron spec.
type TimeBased struct {
	Schedule   Schedule   `json:"schedule"             validate:"required,oneof=hourly daily weekly monthly cron"`
	Expression string     `json:"expression,omitempty" validate:"required_if=Schedule cron"`
	LastFired  *time.Time `json:"last_fired,omitempty"`
}

// BalanceThreshold holds when the balance of Address for Token on Network crosses Threshold.
type BalanceThreshold struct {
	Address    string     `json:"address"    validate:"required"`
	Token      string     `json:"token"      validate:"required"`
	Network    string     `json:"network"    validate:"required"`
	Comparison Comparison `json:"comparison" validate:"required,oneof=above below"`
	Threshold  float64    `json:"threshold"  validate:"gte=0"`
}

// Expression holds when a boolean expression over live signals evaluates to true,
// e.g. `price("ETH", "usd") > 3000 && gas("ethereum") < 20`.
type Expression struct {
	Expr string `json:"expr" validate:"required"`
}

// CompositeAnd holds when every child holds.
type CompositeAnd struct {
	Children ConditionList `json:"children" validate:"required,min=1"`
}

// CompositeOr holds when at least one child holds.
type CompositeOr struct {
	Children ConditionList `json:"children" validate:"required,min=1"`
}

// UnknownCondition preserves a condition whose kind this version does not understand.
// It never holds.
type UnknownCondition struct {
	Type ConditionKind   `json:"-"`
	Raw  json.RawMessage `json:"-"`
}

func (*PriceThreshold) Kind() ConditionKind   { return ConditionPriceThreshold }
func (*GasThreshold) Kind() ConditionKind     { return ConditionGasThreshold }
func (*TimeBased) Kind() ConditionKind        { return ConditionTimeBased }
func (*BalanceThreshold) Kind() ConditionKind { return ConditionBalanceThreshold }
func (*Expression) Kind() ConditionKind       { return ConditionExpression }
func (*CompositeAnd) Kind() ConditionKind     { return ConditionAnd }
func (*CompositeOr) Kind() ConditionKind      { return ConditionOr }
func (u *UnknownCondition) Kind() ConditionKind {
	return u.Type
}

func (*PriceThreshold) condition()   {}
func (*GasThreshold) condition()     {}
func (*TimeBased) condition()        {}
func (*BalanceThreshold) condition() {}
func (*Expression) condition()       {}
func (*CompositeAnd) condition()     {}
func (*CompositeOr) condition()      {}
func (*UnknownCondition) condition() {}

// ConditionList is an ordered list of child conditions encoded as typed envelopes.
type ConditionList []Condition

// MarshalJSON encodes every child as an envelope.
func (l ConditionList) MarshalJSON() ([]byte, error) {
	encoded := make([]json.RawMessage, 0, len(l))

	for _, child := range l {
		data, err := MarshalCondition(child)
		if err != nil {
			return nil, err
		}

		encoded = append(encoded, data)
	}

	return json.Marshal(encoded)
}

// UnmarshalJSON decodes every envelope into its concrete variant.
func (l *ConditionList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	list := make(ConditionList, 0, len(raw))

	for _, item := range raw {
		child, err := UnmarshalCondition(item)
		if err != nil {
			return err
		}

		list = append(list, child)
	}

	*l = list

	return nil
}

// ErrMissingType is returned when an envelope has no "type" field.
var ErrMissingType = errors.New("missing type")

// MarshalCondition encodes a condition as {"type": kind, ...fields}.
func MarshalCondition(condition Condition) (json.RawMessage, error) {
	if unknown, ok := condition.(*UnknownCondition); ok {
		return unknown.Raw, nil
	}

	return marshalEnvelope(string(condition.Kind()), condition)
}

// UnmarshalCondition decodes an envelope into a concrete condition variant. Unknown kinds
// decode into an UnknownCondition rather than failing.
func UnmarshalCondition(data []byte) (Condition, error) {
	kind, err := envelopeType(data)
	if err != nil {
		return nil, err
	}

	var condition Condition

	switch ConditionKind(kind) {
	case ConditionPriceThreshold:
		condition = &PriceThreshold{}
	case ConditionGasThreshold:
		condition = &GasThreshold{}
	case ConditionTimeBased:
		condition = &TimeBased{}
	case ConditionBalanceThreshold:
		condition = &BalanceThreshold{}
	case ConditionExpression:
		condition = &Expression{}
	case ConditionAnd:
		condition = &CompositeAnd{}
	case ConditionOr:
		condition = &CompositeOr{}
	default:
		return &UnknownCondition{Type: ConditionKind(kind), Raw: append(json.RawMessage(nil), data...)}, nil
	}

	err = json.Unmarshal(data, condition)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s condition: %w", kind, err)
	}

	return condition, nil
}

func marshalEnvelope(kind string, value any) (json.RawMessage, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	fields := map[string]json.RawMessage{}

	err = json.Unmarshal(body, &fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	typeField, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}

	fields["type"] = typeField

	return json.Marshal(fields)
}

func envelopeType(data []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}

	err := json.Unmarshal(data, &envelope)
	if err != nil {
		return "", err
	}

	if envelope.Type == "" {
		return "", ErrMissingType
	}

	return envelope.Type, nil
}
