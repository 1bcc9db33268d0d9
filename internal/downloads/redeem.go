package downloads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/imrishuroy/bookstore-orderflow/internal/aws"
	"github.com/imrishuroy/bookstore-orderflow/internal/orders"
)

// ErrFileUnavailable means the book is gone or has no digital file.
var ErrFileUnavailable = errors.New("file unavailable")

// FileLocator turns a stored file reference into a URL the client can fetch.
type FileLocator interface {
	Locate(ctx context.Context, file orders.DigitalFile) (string, error)
}

// BookReader loads catalog items.
type BookReader interface {
	GetBook(ctx context.Context, bookID string) (*orders.Book, error)
}

// S3Locator presigns objects in the downloads bucket. Files that only carry
// an external URL are returned as-is.
type S3Locator struct {
	client aws.S3PresignAPI
	bucket string
	ttl    time.Duration
}

// NewS3Locator returns a locator presigning GETs valid for ttl.
func NewS3Locator(client aws.S3PresignAPI, bucket string, ttl time.Duration) *S3Locator {
	return &S3Locator{client: client, bucket: bucket, ttl: ttl}
}

func (l *S3Locator) Locate(ctx context.Context, file orders.DigitalFile) (string, error) {
	if file.ObjectKey == "" || l.client == nil || l.bucket == "" {
		if file.URL != "" {
			return file.URL, nil
		}
		return "", ErrFileUnavailable
	}

	input := &s3.GetObjectInput{
		Bucket: sdkaws.String(l.bucket),
		Key:    sdkaws.String(file.ObjectKey),
	}
	if file.Name != "" {
		input.ResponseContentDisposition = sdkaws.String(fmt.Sprintf("attachment; filename=%q", file.Name))
	}
	req, err := l.client.PresignGetObject(ctx, input, s3.WithPresignExpires(l.ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", file.ObjectKey, err)
	}
	return req.URL, nil
}

// Redeemer resolves a download token to the file's real location.
type Redeemer struct {
	issuer  *Issuer
	books   BookReader
	locator FileLocator
	logger  *slog.Logger
}

func NewRedeemer(issuer *Issuer, books BookReader, locator FileLocator, logger *slog.Logger) *Redeemer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redeemer{issuer: issuer, books: books, locator: locator, logger: logger}
}

// Redeem returns the URL to redirect to. Errors are ErrInvalidToken,
// ErrFileUnavailable, or an infrastructure failure.
func (r *Redeemer) Redeem(ctx context.Context, token string) (string, error) {
	claims, err := r.issuer.Verify(token)
	if err != nil {
		return "", err
	}

	book, err := r.books.GetBook(ctx, claims.BookID)
	if err != nil {
		return "", fmt.Errorf("load book %s: %w", claims.BookID, err)
	}
	if book == nil || !book.HasDigitalFile() {
		return "", ErrFileUnavailable
	}
	if book.DigitalFile.ID != claims.FileID {
		// the file was replaced after issuing; the current one is served
		r.logger.InfoContext(ctx, "download file replaced since issue",
			"book_id", claims.BookID, "order_ref", claims.OrderRef)
	}

	url, err := r.locator.Locate(ctx, *book.DigitalFile)
	if err != nil {
		return "", err
	}
	r.logger.InfoContext(ctx, "download redeemed",
		"book_id", claims.BookID, "order_ref", claims.OrderRef, "download_id", claims.ID)
	return url, nil
}
