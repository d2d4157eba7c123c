package invoicing

// CanGenerate decides whether a tenant may generate another invoice.
// Active subscriptions are unlimited; everyone else consumes the free quota.
func CanGenerate(status SubscriptionStatus, freeInvoicesUsed int) bool {
	return status == SubscriptionActive || freeInvoicesUsed < FreeInvoiceQuota
}
