package otc

import (
	"encoding/hex"
	"strconv"

	"otcdesk/core/types"
)

const (
	EventTypeConsignmentCreated   = "otc.consignment.created"
	EventTypeConsignmentWithdrawn = "otc.consignment.withdrawn"
	EventTypeOfferCreated         = "otc.offer.created"
	EventTypeOfferApproved        = "otc.offer.approved"
	EventTypeOfferPaid            = "otc.offer.paid"
	EventTypeOfferClaimed         = "otc.offer.claimed"
	EventTypeOfferCancelled       = "otc.offer.cancelled"
	EventTypeOfferRefunded        = "otc.offer.refunded"
	EventTypeOfferRecovered       = "otc.offer.recovered"
	EventTypeDeskPaused           = "otc.desk.paused"
	EventTypePricesUpdated        = "otc.desk.prices_updated"
	EventTypeIndexCompacted       = "otc.index.compacted"
)

// NewConsignmentCreatedEvent returns the canonical payload for a new
// consignment.
func NewConsignmentCreatedEvent(c *Consignment) *types.Event {
	return newConsignmentEvent(EventTypeConsignmentCreated, c)
}

// NewConsignmentWithdrawnEvent returns the payload emitted when a consigner
// withdraws the unsold remainder.
func NewConsignmentWithdrawnEvent(c *Consignment) *types.Event {
	return newConsignmentEvent(EventTypeConsignmentWithdrawn, c)
}

// NewOfferCreatedEvent returns the payload for a newly created offer.
func NewOfferCreatedEvent(o *Offer) *types.Event { return newOfferEvent(EventTypeOfferCreated, o) }

// NewOfferApprovedEvent returns the payload emitted per granted approval.
func NewOfferApprovedEvent(o *Offer, approver [20]byte) *types.Event {
	evt := newOfferEvent(EventTypeOfferApproved, o)
	evt.Attributes["approver"] = hex.EncodeToString(approver[:])
	evt.Attributes["approvals"] = strconv.Itoa(len(o.Approvals))
	return evt
}

// NewOfferPaidEvent returns the payload emitted when an offer is paid.
func NewOfferPaidEvent(o *Offer) *types.Event { return newOfferEvent(EventTypeOfferPaid, o) }

// NewOfferClaimedEvent returns the payload emitted when tokens are released to
// the beneficiary.
func NewOfferClaimedEvent(o *Offer) *types.Event { return newOfferEvent(EventTypeOfferClaimed, o) }

// NewOfferCancelledEvent returns the payload emitted on cancellation.
func NewOfferCancelledEvent(o *Offer, by [20]byte) *types.Event {
	evt := newOfferEvent(EventTypeOfferCancelled, o)
	evt.Attributes["by"] = hex.EncodeToString(by[:])
	return evt
}

// NewOfferRefundedEvent returns the payload emitted on emergency refund.
func NewOfferRefundedEvent(o *Offer) *types.Event { return newOfferEvent(EventTypeOfferRefunded, o) }

// NewOfferRecoveredEvent returns the payload emitted when admin recovery
// delivers the tokens to the beneficiary.
func NewOfferRecoveredEvent(o *Offer) *types.Event { return newOfferEvent(EventTypeOfferRecovered, o) }

// NewDeskPausedEvent returns the payload for pause state changes.
func NewDeskPausedEvent(paused bool) *types.Event {
	return &types.Event{Type: EventTypeDeskPaused, Attributes: map[string]string{
		"paused": strconv.FormatBool(paused),
	}}
}

// NewPricesUpdatedEvent returns the payload for a feed or manual price push.
func NewPricesUpdatedEvent(symbol string, priceUsd8 uint64, updatedAt int64) *types.Event {
	return &types.Event{Type: EventTypePricesUpdated, Attributes: map[string]string{
		"symbol":    symbol,
		"priceUsd8": strconv.FormatUint(priceUsd8, 10),
		"updatedAt": strconv.FormatInt(updatedAt, 10),
	}}
}

// NewIndexCompactedEvent returns the payload for a cleanup pass.
func NewIndexCompactedEvent(removed int) *types.Event {
	return &types.Event{Type: EventTypeIndexCompacted, Attributes: map[string]string{
		"removed": strconv.Itoa(removed),
	}}
}

func newConsignmentEvent(eventType string, c *Consignment) *types.Event {
	attrs := make(map[string]string)
	if c == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(c.ID, 10)
	attrs["token"] = c.Token
	attrs["consigner"] = hex.EncodeToString(c.Consigner[:])
	attrs["totalAmount"] = cloneBigInt(c.TotalAmount).String()
	attrs["remainingAmount"] = cloneBigInt(c.RemainingAmount).String()
	attrs["negotiable"] = strconv.FormatBool(c.Negotiable)
	attrs["active"] = strconv.FormatBool(c.Active)
	attrs["createdAt"] = strconv.FormatInt(c.CreatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newOfferEvent(eventType string, o *Offer) *types.Event {
	attrs := make(map[string]string)
	if o == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(o.ID, 10)
	attrs["consignmentId"] = strconv.FormatUint(o.ConsignmentID, 10)
	attrs["token"] = o.Token
	attrs["beneficiary"] = hex.EncodeToString(o.Beneficiary[:])
	attrs["tokenAmount"] = cloneBigInt(o.TokenAmount).String()
	attrs["discountBps"] = strconv.FormatUint(uint64(o.DiscountBps), 10)
	attrs["currency"] = o.Currency.String()
	attrs["unlockTime"] = strconv.FormatInt(o.UnlockTime, 10)
	if o.Paid {
		attrs["payer"] = hex.EncodeToString(o.Payer[:])
		attrs["amountPaid"] = cloneBigInt(o.AmountPaid).String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
