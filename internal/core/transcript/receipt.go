package transcript

import "connect-chat/internal/core/domain"

// ApplyReceipt folds a receipt into an existing item. Read is terminal: once
// an item is read no later receipt changes it. A ReceiptNone update leaves the
// item unchanged rather than clearing its receipt, so a receipt-less copy of
// an item can never downgrade it. Version is left to the caller.
func ApplyReceipt(existing domain.NormalizedItem, receipt domain.ReceiptType) domain.NormalizedItem {
	if existing.ReceiptType() == domain.ReceiptRead || receipt == domain.ReceiptNone {
		return existing
	}
	existing.TransportDetails.MessageReceiptType = receipt
	return existing
}

// strongerReceipt returns whichever of a and b ranks higher (read > delivered > none)
func strongerReceipt(a, b domain.ReceiptType) domain.ReceiptType {
	if receiptRank(b) > receiptRank(a) {
		return b
	}
	return a
}

func receiptRank(r domain.ReceiptType) int {
	switch r {
	case domain.ReceiptRead:
		return 2
	case domain.ReceiptDelivered:
		return 1
	}
	return 0
}
