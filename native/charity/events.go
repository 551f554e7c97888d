package charity

import (
	"strconv"

	"charityledger/core/events"
	"charityledger/core/types"
	"charityledger/crypto"
)

const (
	// EventTypeCharityRegistered is emitted when the owner registers a charity.
	EventTypeCharityRegistered = "charity.registered"
	// EventTypeDonationMade is emitted when a donor contributes to a charity.
	EventTypeDonationMade = "charity.donation.made"
	// EventTypeFundsDistributed is emitted when a charity disburses funds.
	EventTypeFundsDistributed = "charity.funds.distributed"
	// EventTypeExpenseVerified is emitted every time the owner verifies an expense.
	EventTypeExpenseVerified = "charity.expense.verified"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }

func formatAddr(addr [20]byte) string { return crypto.AddressFromArray(addr).String() }

// CharityRegisteredEvent describes a new registration.
func CharityRegisteredEvent(id uint64, name string, payout [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeCharityRegistered,
		Attributes: map[string]string{
			"charityId": formatID(id),
			"name":      name,
			"payout":    formatAddr(payout),
		},
	}
}

// DonationMadeEvent describes a recorded donation.
func DonationMadeEvent(id uint64, donor [20]byte, amount string, message string) *types.Event {
	return &types.Event{
		Type: EventTypeDonationMade,
		Attributes: map[string]string{
			"charityId": formatID(id),
			"donor":     formatAddr(donor),
			"amount":    amount,
			"message":   message,
		},
	}
}

// FundsDistributedEvent describes a disbursement released to the payout address.
func FundsDistributedEvent(id uint64, amount string, description string, category string) *types.Event {
	return &types.Event{
		Type: EventTypeFundsDistributed,
		Attributes: map[string]string{
			"charityId":   formatID(id),
			"amount":      amount,
			"description": description,
			"category":    category,
		},
	}
}

// ExpenseVerifiedEvent describes an owner verification.
func ExpenseVerifiedEvent(id uint64, index uint64) *types.Event {
	return &types.Event{
		Type: EventTypeExpenseVerified,
		Attributes: map[string]string{
			"charityId":    formatID(id),
			"expenseIndex": formatID(index),
		},
	}
}
