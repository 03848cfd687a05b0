package models

import (
	"encoding/json"
	"fmt"
)

// ActionKind names a variant of the action list.
type ActionKind string

const (
	ActionCrossChainSwap ActionKind = "cross_chain_swap"
	ActionNotification   ActionKind = "notification"
	ActionWebhook        ActionKind = "webhook"
	ActionMultiStep      ActionKind = "multi_step"
)

// Action is one thing a workflow does when its condition holds. The set of variants is
// closed: CrossChainSwap, Notification, Webhook, MultiStep and UnknownAction.
type Action interface {
	Kind() ActionKind
	action()
}

// CrossChainSwap swaps Amount of DepositCoin on DepositNetwork into SettleCoin on
// SettleNetwork, paid out to SettleAddress.
type CrossChainSwap struct {
	DepositCoin    string `json:"deposit_coin"             validate:"required"`
	DepositNetwork string `json:"deposit_network"          validate:"required"`
	SettleCoin     string `json:"settle_coin"              validate:"required"`
	SettleNetwork  string `json:"settle_network"           validate:"required"`
	Amount         string `json:"amount"                   validate:"required,numeric"`
	SettleAddress  string `json:"settle_address"           validate:"required"`
	RefundAddress  string `json:"refund_address,omitempty"`
}

// NotificationChannel selects how a notification is delivered.
type NotificationChannel string

const (
	ChannelLog     NotificationChannel = "log"
	ChannelWebhook NotificationChannel = "webhook"
	ChannelEvent   NotificationChannel = "event"
)

// Notification sends Message to Recipient over Channel.
type Notification struct {
	Channel   NotificationChannel `json:"channel"   validate:"required,oneof=log webhook event"`
	Recipient string              `json:"recipient" validate:"required_if=Channel webhook"`
	Message   string              `json:"message"   validate:"required"`
}

// Webhook calls URL with Method. Headers and Body may contain templates rendered against
// the running execution.
type Webhook struct {
	URL     string            `json:"url"               validate:"required,url"`
	Method  string            `json:"method"            validate:"omitempty,oneof=GET POST PUT PATCH DELETE get post put patch delete"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// MultiStep runs Steps in order. With StopOnError the first failure aborts the rest.
type MultiStep struct {
	Steps       ActionList `json:"steps"         validate:"required,min=1"`
	StopOnError bool       `json:"stop_on_error"`
}

// UnknownAction preserves an action whose kind this version does not understand.
type UnknownAction struct {
	Type ActionKind      `json:"-"`
	Raw  json.RawMessage `json:"-"`
}

func (*CrossChainSwap) Kind() ActionKind { return ActionCrossChainSwap }
func (*Notification) Kind() ActionKind   { return ActionNotification }
func (*Webhook) Kind() ActionKind        { return ActionWebhook }
func (*MultiStep) Kind() ActionKind      { return ActionMultiStep }
func (u *UnknownAction) Kind() ActionKind {
	return u.Type
}

func (*CrossChainSwap) action() {}
func (*Notification) action()   {}
func (*Webhook) action()        {}
func (*MultiStep) action()      {}
func (*UnknownAction) action()  {}

// ActionList is an ordered list of actions encoded as typed envelopes.
type ActionList []Action

// MarshalJSON encodes every action as an envelope.
func (l ActionList) MarshalJSON() ([]byte, error) {
	encoded := make([]json.RawMessage, 0, len(l))

	for _, action := range l {
		data, err := MarshalAction(action)
		if err != nil {
			return nil, err
		}

		encoded = append(encoded, data)
	}

	return json.Marshal(encoded)
}

// UnmarshalJSON decodes every envelope into its concrete variant.
func (l *ActionList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	list := make(ActionList, 0, len(raw))

	for _, item := range raw {
		action, err := UnmarshalAction(item)
		if err != nil {
			return err
		}

		list = append(list, action)
	}

	*l = list

	return nil
}

// MarshalAction encodes an action as {"type": kind, ...fields}.
func MarshalAction(action Action) (json.RawMessage, error) {
	if unknown, ok := action.(*UnknownAction); ok {
		return unknown.Raw, nil
	}

	return marshalEnvelope(string(action.Kind()), action)
}

// UnmarshalAction decodes an envelope into a concrete action variant. Unknown kinds decode
// into an UnknownAction rather than failing.
func UnmarshalAction(data []byte) (Action, error) {
	kind, err := envelopeType(data)
	if err != nil {
		return nil, err
	}

	var action Action

	switch ActionKind(kind) {
	case ActionCrossChainSwap:
		action = &CrossChainSwap{}
	case ActionNotification:
		action = &Notification{}
	case ActionWebhook:
		action = &Webhook{}
	case ActionMultiStep:
		action = &MultiStep{}
	default:
		return &UnknownAction{Type: ActionKind(kind), Raw: append(json.RawMessage(nil), data...)}, nil
	}

	err = json.Unmarshal(data, action)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s action: %w", kind, err)
	}

	return action, nil
}
