package shared

import "fmt"

// RFQLockKey builds redis keys serialising transitions of one RFQ.
func RFQLockKey(rfqID int64) string {
	return fmt.Sprintf("rfq:%d:lock", rfqID)
}

// QuotationLockKey builds redis keys serialising transitions of one quotation.
func QuotationLockKey(quotationID int64) string {
	return fmt.Sprintf("quotation:%d:lock", quotationID)
}
