package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripebill/stripebill/pkg/invoicing"
)

func newTenant(id string) *invoicing.Tenant {
	return &invoicing.Tenant{
		ID:                 id,
		SubscriptionStatus: invoicing.SubscriptionNone,
		WebhookToken:       "token-" + id,
		StripeAccountID:    "acct-" + id,
	}
}

func TestTenantLookups(t *testing.T) {
	store := New()
	store.PutTenant(newTenant("t1"))
	ctx := context.Background()

	byID, err := store.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", byID.ID)

	byToken, err := store.GetTenantByWebhookToken(ctx, "token-t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", byToken.ID)

	byAccount, err := store.GetTenantByStripeAccount(ctx, "acct-t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", byAccount.ID)

	_, err = store.GetTenant(ctx, "missing")
	assert.ErrorIs(t, err, invoicing.ErrTenantNotFound)
	_, err = store.GetTenantByWebhookToken(ctx, "")
	assert.ErrorIs(t, err, invoicing.ErrTenantNotFound)
	_, err = store.GetTenantByStripeAccount(ctx, "")
	assert.ErrorIs(t, err, invoicing.ErrTenantNotFound)
}

func TestSnapshotsAreCopies(t *testing.T) {
	store := New()
	store.PutTenant(newTenant("t1"))
	ctx := context.Background()

	first, err := store.GetTenant(ctx, "t1")
	require.NoError(t, err)
	first.WebhookToken = "mutated"

	second, err := store.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "token-t1", second.WebhookToken)
}

func TestIncrementFreeInvoicesUsed_Concurrent(t *testing.T) {
	store := New()
	store.PutTenant(newTenant("t1"))
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := store.IncrementFreeInvoicesUsed(ctx, "t1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	tenant, err := store.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, workers, tenant.FreeInvoicesUsed)
}

func TestUpdateInvoiceEmailResult(t *testing.T) {
	store := New()
	ctx := context.Background()

	inv := &invoicing.Invoice{
		ID:                 "inv-1",
		TenantID:           "t1",
		InvoiceNumber:      "FCT-0042",
		ProviderInvoiceURL: "https://example.test/invoice-pdf/0042",
		Status:             invoicing.StatusGenerated,
	}
	require.NoError(t, store.CreateInvoice(ctx, inv))

	// Failure keeps generated.
	require.NoError(t, store.UpdateInvoiceEmailResult(ctx, "inv-1", false))
	got, ok := store.GetInvoice("inv-1")
	require.True(t, ok)
	assert.Equal(t, invoicing.StatusGenerated, got.Status)
	assert.False(t, got.EmailSent)

	// Success advances to sent, identifiers survive.
	require.NoError(t, store.UpdateInvoiceEmailResult(ctx, "inv-1", true))
	got, ok = store.GetInvoice("inv-1")
	require.True(t, ok)
	assert.Equal(t, invoicing.StatusSent, got.Status)
	assert.True(t, got.EmailSent)
	assert.Equal(t, "FCT-0042", got.InvoiceNumber)
	assert.Equal(t, "https://example.test/invoice-pdf/0042", got.ProviderInvoiceURL)
}

func TestUpdateInvoiceEmailResult_NeverRegressesFailed(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.CreateInvoice(ctx, &invoicing.Invoice{
		ID:     "inv-2",
		Status: invoicing.StatusFailed,
	}))
	require.NoError(t, store.UpdateInvoiceEmailResult(ctx, "inv-2", true))

	got, _ := store.GetInvoice("inv-2")
	assert.Equal(t, invoicing.StatusFailed, got.Status)
}

func TestListInvoices_NewestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateInvoice(ctx, &invoicing.Invoice{
			ID:        id,
			TenantID:  "t1",
			Status:    invoicing.StatusGenerated,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, store.CreateInvoice(ctx, &invoicing.Invoice{
		ID:        "other",
		TenantID:  "t2",
		Status:    invoicing.StatusGenerated,
		CreatedAt: base,
	}))

	invoices, err := store.ListInvoices(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, invoices, 3)
	assert.Equal(t, "c", invoices[0].ID)
	assert.Equal(t, "a", invoices[2].ID)
}

func TestUpdateSettings_PartialUpdate(t *testing.T) {
	store := New()
	tenant := newTenant("t1")
	tenant.InvoiceSeries = "FCT"
	tenant.Company.Name = "Example SRL"
	store.PutTenant(tenant)

	newSeries := "PRO"
	got, err := store.UpdateSettings(context.Background(), "t1", &invoicing.SettingsUpdate{
		InvoiceSeries: &newSeries,
	})
	require.NoError(t, err)
	assert.Equal(t, "PRO", got.InvoiceSeries)
	assert.Equal(t, "Example SRL", got.Company.Name)
}

func TestSubscriptionLifecycle(t *testing.T) {
	store := New()
	store.PutTenant(newTenant("t1"))
	ctx := context.Background()

	require.NoError(t, store.ActivateSubscription(ctx, "t1", "cus_1", "sub_1"))
	tenant, _ := store.GetTenant(ctx, "t1")
	assert.Equal(t, invoicing.SubscriptionActive, tenant.SubscriptionStatus)

	periodEnd := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateSubscriptionByCustomer(ctx, "cus_1", &invoicing.SubscriptionUpdate{
		Status:    invoicing.SubscriptionPastDue,
		PeriodEnd: &periodEnd,
	}))
	tenant, _ = store.GetTenant(ctx, "t1")
	assert.Equal(t, invoicing.SubscriptionPastDue, tenant.SubscriptionStatus)
	require.NotNil(t, tenant.PeriodEnd)

	require.NoError(t, store.ClearSubscriptionByCustomer(ctx, "cus_1"))
	tenant, _ = store.GetTenant(ctx, "t1")
	assert.Equal(t, invoicing.SubscriptionCanceled, tenant.SubscriptionStatus)
	assert.Empty(t, tenant.SubscriptionID)
	assert.Nil(t, tenant.PeriodEnd)

	// Unknown customers are a no-op, not an error.
	assert.NoError(t, store.UpdateSubscriptionByCustomer(ctx, "cus_unknown", &invoicing.SubscriptionUpdate{
		Status: invoicing.SubscriptionActive,
	}))
}

func TestMarkProcessed(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, err := store.MarkProcessed(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.MarkProcessed(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	// Expired entries can be claimed again.
	expired, err := store.MarkProcessed(ctx, "evt_2", -time.Second)
	require.NoError(t, err)
	assert.True(t, expired)
	reclaimed, err := store.MarkProcessed(ctx, "evt_2", time.Minute)
	require.NoError(t, err)
	assert.True(t, reclaimed)
}
