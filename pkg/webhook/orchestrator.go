package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"

	"github.com/stripebill/stripebill/pkg/invoicing"
)

const (
	misconfiguredDescription = "Payment received - configure the invoicing provider"
	failedDescription        = "Error generating invoice"
)

// processEvent dispatches one verified event by type. Each type is
// independent; unrecognized types are acknowledged with no action.
func (h *Handler) processEvent(ctx context.Context, event *stripe.Event, tenantToken string) error {
	switch event.Type {
	case "payment_intent.succeeded":
		return h.handlePaymentSucceeded(ctx, event, tenantToken)
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.updated":
		return h.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return h.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_failed":
		return h.handleSubscriptionPaymentFailed(ctx, event)
	default:
		h.logger.Debug("unhandled event type",
			invoicing.Field{Key: "event_type", Value: string(event.Type)})
		return nil
	}
}

// handlePaymentSucceeded runs the payment-to-invoice pipeline: resolve the
// tenant, check entitlement, map, call the provider, record the outcome,
// and send the invoice email best-effort.
func (h *Handler) handlePaymentSucceeded(ctx context.Context, event *stripe.Event, tenantToken string) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return fmt.Errorf("failed to unmarshal payment intent: %w", err)
	}

	tenant, err := h.resolveTenant(ctx, event, tenantToken)
	if err != nil {
		if errors.Is(err, invoicing.ErrTenantNotFound) {
			// Resolution will not succeed on redelivery either; log and ack.
			h.logger.Warn("no tenant for payment event",
				invoicing.Field{Key: "payment_id", Value: intent.ID},
				invoicing.Field{Key: "account", Value: event.Account})
			h.metrics.RecordWebhookError("tenant_not_found")
			return nil
		}
		return err
	}
	if tenant == nil {
		// Neither token nor connected account present; not ours to invoice.
		h.logger.Debug("payment event without tenant identification",
			invoicing.Field{Key: "payment_id", Value: intent.ID})
		return nil
	}

	if !invoicing.CanGenerate(tenant.SubscriptionStatus, tenant.FreeInvoicesUsed) {
		h.logger.Info("invoice limit reached and no active subscription",
			invoicing.Field{Key: "tenant_id", Value: tenant.ID},
			invoicing.Field{Key: "free_invoices_used", Value: tenant.FreeInvoicesUsed})
		h.metrics.RecordEntitlementDenied()
		return nil
	}

	evt := paymentEventFromIntent(&intent, event.Account)

	provider, err := h.providerFor(tenant)
	if err != nil {
		h.logger.Warn("tenant has no usable invoicing provider",
			invoicing.Field{Key: "tenant_id", Value: tenant.ID},
			invoicing.Field{Key: "provider", Value: string(tenant.Provider)})
		return h.recordUnmapped(ctx, tenant, evt, invoicing.StatusPending,
			misconfiguredDescription, "invoicing provider not configured")
	}

	mapped, err := h.mapper.Map(evt, tenant)
	if err != nil {
		h.logger.Warn("invoice mapping failed",
			invoicing.Field{Key: "tenant_id", Value: tenant.ID},
			invoicing.Field{Key: "error", Value: err.Error()})
		return h.recordUnmapped(ctx, tenant, evt, invoicing.StatusFailed,
			failedDescription, err.Error())
	}

	result, err := provider.CreateInvoice(ctx, mapped)
	if err != nil {
		h.logger.Error("invoicing provider unavailable",
			invoicing.Field{Key: "tenant_id", Value: tenant.ID},
			invoicing.Field{Key: "provider", Value: provider.Name()},
			invoicing.Field{Key: "error", Value: err.Error()})
		return h.recordRejected(ctx, tenant, evt, mapped, err.Error())
	}
	if !result.Accepted {
		h.logger.Warn("invoicing provider rejected the invoice",
			invoicing.Field{Key: "tenant_id", Value: tenant.ID},
			invoicing.Field{Key: "provider", Value: provider.Name()},
			invoicing.Field{Key: "error", Value: result.ErrorText})
		return h.recordRejected(ctx, tenant, evt, mapped, result.ErrorText)
	}

	return h.recordGenerated(ctx, tenant, evt, mapped, result, provider)
}

// resolveTenant applies the two resolution strategies: the webhook token
// header when present, otherwise the event's connected account id. Returns
// (nil, nil) when the event carries neither.
func (h *Handler) resolveTenant(ctx context.Context, event *stripe.Event, tenantToken string) (*invoicing.Tenant, error) {
	if tenantToken != "" {
		return h.store.GetTenantByWebhookToken(ctx, tenantToken)
	}
	if event.Account != "" {
		return h.store.GetTenantByStripeAccount(ctx, event.Account)
	}
	return nil, nil
}

// providerFor builds the provider client for the tenant's configured kind.
func (h *Handler) providerFor(tenant *invoicing.Tenant) (invoicing.Provider, error) {
	factory, ok := h.providers[tenant.Provider]
	if !ok {
		return nil, invoicing.ErrProviderNotConfigured
	}
	return factory(tenant)
}

// recordGenerated persists the successful invoice, consumes free quota for
// non-subscribed tenants, and sends the invoice email best-effort. Email
// failure never regresses the invoice below generated.
func (h *Handler) recordGenerated(
	ctx context.Context,
	tenant *invoicing.Tenant,
	evt *invoicing.PaymentEvent,
	mapped *invoicing.InvoiceRequest,
	result *invoicing.ProviderResult,
	provider invoicing.Provider,
) error {
	inv := &invoicing.Invoice{
		ID:       uuid.NewString(),
		TenantID: tenant.ID,

		StripePaymentID:  evt.ID,
		StripeCustomerID: evt.CustomerID,
		StripeAmount:     evt.Amount,
		StripeCurrency:   evt.Currency,

		CustomerName:    mapped.ClientName,
		CustomerEmail:   mapped.ClientEmail,
		CustomerAddress: mapped.ClientAddress,

		InvoiceNumber: result.InvoiceNumber,
		InvoiceSeries: mapped.Series,
		Description:   mapped.ProductName,
		Quantity:      mapped.Quantity,
		UnitPrice:     int64(math.Round(mapped.UnitPrice * 100)),
		TotalAmount:   evt.Amount,

		ProviderInvoiceID:  result.InvoiceID,
		ProviderInvoiceURL: result.PDFURL,

		Status: invoicing.StatusGenerated,
	}

	if err := h.store.CreateInvoice(ctx, inv); err != nil {
		return fmt.Errorf("failed to persist invoice: %w", err)
	}
	h.metrics.RecordInvoiceGenerated(provider.Name(), invoicing.StatusGenerated)

	// Active subscriptions never consume the free counter.
	if tenant.SubscriptionStatus != invoicing.SubscriptionActive {
		used, err := h.store.IncrementFreeInvoicesUsed(ctx, tenant.ID)
		if err != nil {
			h.logger.Error("failed to increment free invoice counter",
				invoicing.Field{Key: "tenant_id", Value: tenant.ID},
				invoicing.Field{Key: "error", Value: err.Error()})
		} else {
			h.logger.Debug("free invoice counter incremented",
				invoicing.Field{Key: "tenant_id", Value: tenant.ID},
				invoicing.Field{Key: "free_invoices_used", Value: used})
		}
	}

	if mapped.ClientEmail != "" && result.InvoiceNumber != "" {
		sent, emailErr := provider.EmailInvoice(ctx, result.InvoiceID, mapped.Series, mapped.ClientEmail)
		if emailErr != nil {
			h.logger.Warn("invoice email dispatch failed",
				invoicing.Field{Key: "invoice_id", Value: inv.ID},
				invoicing.Field{Key: "error", Value: emailErr.Error()})
			sent = false
		}
		if err := h.store.UpdateInvoiceEmailResult(ctx, inv.ID, sent); err != nil {
			h.logger.Error("failed to update invoice email status",
				invoicing.Field{Key: "invoice_id", Value: inv.ID},
				invoicing.Field{Key: "error", Value: err.Error()})
		}
	}

	h.logger.Info("invoice generated",
		invoicing.Field{Key: "tenant_id", Value: tenant.ID},
		invoicing.Field{Key: "invoice_number", Value: result.InvoiceNumber},
		invoicing.Field{Key: "payment_id", Value: evt.ID})
	return nil
}

// recordRejected persists a failed invoice carrying the provider's error
// text. The webhook is still acknowledged; remediation is out-of-band.
func (h *Handler) recordRejected(
	ctx context.Context,
	tenant *invoicing.Tenant,
	evt *invoicing.PaymentEvent,
	mapped *invoicing.InvoiceRequest,
	errorText string,
) error {
	inv := &invoicing.Invoice{
		ID:       uuid.NewString(),
		TenantID: tenant.ID,

		StripePaymentID: evt.ID,
		StripeAmount:    evt.Amount,
		StripeCurrency:  evt.Currency,

		CustomerName:  mapped.ClientName,
		CustomerEmail: mapped.ClientEmail,
		InvoiceSeries: mapped.Series,

		Description: failedDescription,
		Quantity:    1,
		UnitPrice:   evt.Amount,
		TotalAmount: evt.Amount,

		Status:       invoicing.StatusFailed,
		ErrorMessage: errorText,
	}

	if err := h.store.CreateInvoice(ctx, inv); err != nil {
		return fmt.Errorf("failed to persist failed invoice: %w", err)
	}
	h.metrics.RecordInvoiceGenerated(string(tenant.Provider), invoicing.StatusFailed)
	return nil
}

// recordUnmapped persists a pending or failed invoice for payments that
// never reached the provider (misconfiguration or mapping failure).
func (h *Handler) recordUnmapped(
	ctx context.Context,
	tenant *invoicing.Tenant,
	evt *invoicing.PaymentEvent,
	status invoicing.InvoiceStatus,
	description, errorText string,
) error {
	inv := &invoicing.Invoice{
		ID:       uuid.NewString(),
		TenantID: tenant.ID,

		StripePaymentID: evt.ID,
		StripeAmount:    evt.Amount,
		StripeCurrency:  evt.Currency,

		Description: description,
		Quantity:    1,
		UnitPrice:   evt.Amount,
		TotalAmount: evt.Amount,

		Status:       status,
		ErrorMessage: errorText,
	}

	if err := h.store.CreateInvoice(ctx, inv); err != nil {
		return fmt.Errorf("failed to persist %s invoice: %w", status, err)
	}
	h.metrics.RecordInvoiceGenerated(string(tenant.Provider), status)
	return nil
}

// handleCheckoutCompleted activates the tenant's subscription after a
// completed subscription checkout.
func (h *Handler) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	if session.Mode != stripe.CheckoutSessionModeSubscription || session.ClientReferenceID == "" {
		return nil
	}

	customerID := ""
	if session.Customer != nil {
		customerID = session.Customer.ID
	}
	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}

	if err := h.store.ActivateSubscription(ctx, session.ClientReferenceID, customerID, subscriptionID); err != nil {
		return fmt.Errorf("failed to activate subscription: %w", err)
	}

	h.logger.Info("subscription activated",
		invoicing.Field{Key: "tenant_id", Value: session.ClientReferenceID},
		invoicing.Field{Key: "subscription_id", Value: subscriptionID})
	return nil
}

// handleSubscriptionUpdated applies status, price and period-end changes,
// matched by the external customer id.
func (h *Handler) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}
	if sub.Customer == nil {
		return nil
	}

	upd := &invoicing.SubscriptionUpdate{
		Status: invoicing.SubscriptionStatus(sub.Status),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		upd.PriceID = sub.Items.Data[0].Price.ID
	}
	if periodEnd := periodEndFromRaw(event.Data.Raw); periodEnd != nil {
		upd.PeriodEnd = periodEnd
	}

	if err := h.store.UpdateSubscriptionByCustomer(ctx, sub.Customer.ID, upd); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	h.logger.Info("subscription updated",
		invoicing.Field{Key: "customer_id", Value: sub.Customer.ID},
		invoicing.Field{Key: "status", Value: string(sub.Status)})
	return nil
}

// handleSubscriptionDeleted marks the subscription canceled and clears its
// id and period end.
func (h *Handler) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}
	if sub.Customer == nil {
		return nil
	}

	if err := h.store.ClearSubscriptionByCustomer(ctx, sub.Customer.ID); err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	h.logger.Info("subscription canceled",
		invoicing.Field{Key: "customer_id", Value: sub.Customer.ID})
	return nil
}

// handleSubscriptionPaymentFailed marks the tenant past due when its own
// subscription billing fails. This concerns the SaaS's billing of the
// tenant, not the tenant's generated invoices.
func (h *Handler) handleSubscriptionPaymentFailed(ctx context.Context, event *stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("failed to unmarshal invoice: %w", err)
	}
	if inv.Customer == nil {
		return nil
	}

	upd := &invoicing.SubscriptionUpdate{Status: invoicing.SubscriptionPastDue}
	if err := h.store.UpdateSubscriptionByCustomer(ctx, inv.Customer.ID, upd); err != nil {
		return fmt.Errorf("failed to mark subscription past due: %w", err)
	}

	h.logger.Info("subscription payment failed",
		invoicing.Field{Key: "customer_id", Value: inv.Customer.ID})
	return nil
}

// paymentEventFromIntent normalizes the Stripe payment intent into the
// immutable payment fact the pipeline operates on.
func paymentEventFromIntent(intent *stripe.PaymentIntent, accountID string) *invoicing.PaymentEvent {
	evt := &invoicing.PaymentEvent{
		ID:          intent.ID,
		Amount:      intent.Amount,
		Currency:    string(intent.Currency),
		Description: intent.Description,
		AccountID:   accountID,
	}
	if intent.Customer != nil {
		evt.CustomerID = intent.Customer.ID
	}
	evt.CustomerEmail = intent.ReceiptEmail
	if intent.Shipping != nil {
		evt.CustomerName = intent.Shipping.Name
		if intent.Shipping.Address != nil {
			evt.CustomerAddr = formatAddress(intent.Shipping.Address)
		}
	}
	return evt
}

func formatAddress(addr *stripe.Address) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{addr.Line1, addr.City, addr.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// periodEndFromRaw extracts current_period_end from the raw event payload.
// Newer Stripe API versions move the period onto subscription items, so the
// typed struct cannot be relied on here.
func periodEndFromRaw(raw json.RawMessage) *time.Time {
	var payload struct {
		CurrentPeriodEnd int64 `json:"current_period_end"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.CurrentPeriodEnd == 0 {
		return nil
	}
	t := time.Unix(payload.CurrentPeriodEnd, 0).UTC()
	return &t
}
