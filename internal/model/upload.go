package model

import "time"

// UploadHistory records one accepted statement upload.
type UploadHistory struct {
	ID         int64
	AccountID  int64
	StartDate  time.Time
	EndDate    time.Time
	UploadedBy string
	UploadedAt time.Time
	ErrorCount int // populated by listings only
}

// UploadError is an unresolved classification problem on a transaction.
type UploadError struct {
	ID              int64
	UploadHistoryID int64
	TransactionID   int64
	Message         string

	// Populated by listings.
	Transaction Transaction
}
