package services

import (
	"context"
)

// UploadProcessor is what the HTTP layer needs from the pipeline.
type UploadProcessor interface {
	Process(ctx context.Context, up Upload) (*RunResult, error)
	ProcessBatch(ctx context.Context, uploads []Upload) (*BatchResult, error)
	LatestResult(userID string) (*RunResult, bool)
}

var (
	_ UploadProcessor = (*Pipeline)(nil)
	_ Transmitter     = (*HTTPTransmitter)(nil)
	_ Notifier        = (*MailgunNotifier)(nil)
	_ Notifier        = LogNotifier{}
	_ Observer        = (*LogObserver)(nil)
	_ Observer        = (*MetricsObserver)(nil)
	_ Observer        = (*AlertObserver)(nil)
)
