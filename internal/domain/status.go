package domain

// InvoiceStatus is the canonical invoice status, independent of any
// provider's raw vocabulary. Raw provider strings are translated into this
// enum by the per-provider status mappers.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusViewed    InvoiceStatus = "viewed"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"

	// InvoiceStatusUnknown is the conservative result for a raw provider
	// status that no mapper recognizes. It never blocks processing.
	InvoiceStatusUnknown InvoiceStatus = "unknown"
)

// Locked reports whether the status is in the post-send locked set.
// Once locked, the provider is the source of truth and only status sync
// may touch the invoice.
func (s InvoiceStatus) Locked() bool {
	switch s {
	case InvoiceStatusSent, InvoiceStatusViewed, InvoiceStatusPaid,
		InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status ends active polling. A terminal
// invoice is removed from the refresh queue entirely.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// Valid reports whether s is a member of the canonical enum.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusViewed,
		InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled,
		InvoiceStatusUnknown:
		return true
	}
	return false
}

func (s InvoiceStatus) String() string { return string(s) }
