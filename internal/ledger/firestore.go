package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection = "conversions"
	maxRetries        = 3
	requestTimeout    = 3 * time.Second
	initialBackoff    = 100 * time.Millisecond
)

// FirestoreRepository persists conversion records in a Firestore collection.
type FirestoreRepository struct {
	client     *firestore.Client
	collection string
	tracer     trace.Tracer
}

func NewFirestoreRepository(client *firestore.Client, collection string) *FirestoreRepository {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreRepository{
		client:     client,
		collection: collection,
		tracer:     otel.Tracer("pdfpress/internal/ledger/firestore"),
	}
}

func (r *FirestoreRepository) Append(ctx context.Context, rec Record) (string, error) {
	doc := r.collectionRef().NewDoc()
	err := r.withRetries(ctx, "AppendConversionRecord", func(ctx context.Context) error {
		_, err := doc.Create(ctx, encodeRecord(rec))
		return err
	})
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

func (r *FirestoreRepository) Recent(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	err := r.withRetries(ctx, "RecentConversions", func(ctx context.Context) error {
		records = records[:0]
		iter := r.collectionRef().
			OrderBy("created_at", firestore.Desc).
			Limit(limit).
			Documents(ctx)
		defer iter.Stop()

		for {
			doc, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return err
			}
			rec, err := decodeRecord(doc)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
	})
	return records, err
}

func (r *FirestoreRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.withRetries(ctx, "CountConversionsSince", func(ctx context.Context) error {
		count = 0
		iter := r.collectionRef().Where("created_at", ">=", since).Documents(ctx)
		defer iter.Stop()
		for {
			_, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return err
			}
			count++
		}
	})
	return count, err
}

func (r *FirestoreRepository) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	var purged int
	err := r.withRetries(ctx, "PurgeConversionRecords", func(ctx context.Context) error {
		purged = 0
		iter := r.collectionRef().Where("created_at", "<", cutoff).Limit(limit).Documents(ctx)
		defer iter.Stop()

		batch := r.client.Batch()
		for {
			doc, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return err
			}
			batch.Delete(doc.Ref)
			purged++
		}
		if purged == 0 {
			return nil
		}
		_, err := batch.Commit(ctx)
		return err
	})
	return purged, err
}

func (r *FirestoreRepository) collectionRef() *firestore.CollectionRef {
	return r.client.Collection(r.collection)
}

func (r *FirestoreRepository) withRetries(ctx context.Context, spanName string, fn func(context.Context) error) error {
	var err error
	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		spanCtx, span := r.tracer.Start(attemptCtx, spanName)
		err = fn(spanCtx)
		span.End()
		cancel()
		if err == nil || isNonRetryableError(err) || attempt == maxRetries-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func isNonRetryableError(err error) bool {
	switch status.Code(err) {
	case codes.OK, codes.NotFound, codes.InvalidArgument, codes.FailedPrecondition,
		codes.PermissionDenied, codes.AlreadyExists:
		return true
	default:
		return false
	}
}

func encodeRecord(rec Record) map[string]interface{} {
	return map[string]interface{}{
		"filename":     rec.Filename,
		"source_bytes": rec.SourceBytes,
		"output_bytes": rec.OutputBytes,
		"width":        rec.Width,
		"height":       rec.Height,
		"outcome":      string(rec.Outcome),
		"duration_ms":  rec.Duration.Milliseconds(),
		"created_at":   rec.CreatedAt,
	}
}

func decodeRecord(doc *firestore.DocumentSnapshot) (Record, error) {
	var payload struct {
		Filename    string    `firestore:"filename"`
		SourceBytes int64     `firestore:"source_bytes"`
		OutputBytes int64     `firestore:"output_bytes"`
		Width       int       `firestore:"width"`
		Height      int       `firestore:"height"`
		Outcome     string    `firestore:"outcome"`
		DurationMS  int64     `firestore:"duration_ms"`
		CreatedAt   time.Time `firestore:"created_at"`
	}
	if err := doc.DataTo(&payload); err != nil {
		return Record{}, fmt.Errorf("decode conversion record: %w", err)
	}
	return Record{
		ID:          doc.Ref.ID,
		Filename:    payload.Filename,
		SourceBytes: payload.SourceBytes,
		OutputBytes: payload.OutputBytes,
		Width:       payload.Width,
		Height:      payload.Height,
		Outcome:     Outcome(payload.Outcome),
		Duration:    time.Duration(payload.DurationMS) * time.Millisecond,
		CreatedAt:   payload.CreatedAt,
	}, nil
}
