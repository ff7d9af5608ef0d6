package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// CapturedFrame is one sampled inbound frame plus the metadata an offline
// analyzer needs to reconstruct ordering and framing without replaying a
// live session.
type CapturedFrame struct {
	SeqNum     int64     `json:"seq"`
	Kind       string    `json:"kind"`
	Payload    []byte    `json:"payload"`
	CapturedAt time.Time `json:"captured_at"`
}

// Archiver uploads batches of captured frames to S3 as newline-delimited
// JSON, partitioned by flush time. It never reads the data back: protocol
// capture is a one-way diagnostic sink, not a queryable store.
type Archiver struct {
	client *s3.Client
	bucket string
}

// NewArchiver builds an Archiver over an already-connected Client.
func NewArchiver(c *Client) *Archiver {
	return &Archiver{client: c.S3(), bucket: c.Bucket()}
}

// Flush serializes a batch of captured frames to JSONL and uploads it to
// capture/<flushedAt date>/<flushedAt compact timestamp>.jsonl (see
// capturePath). Returns the uploaded object's key.
func (a *Archiver) Flush(ctx context.Context, batch []CapturedFrame, flushedAt time.Time) (string, error) {
	if len(batch) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(batch)
	if err != nil {
		return "", fmt.Errorf("capture/s3: marshal batch: %w", err)
	}

	path := capturePath(flushedAt)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(buf),
		ContentType: aws.String("application/x-ndjson"),
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("capture/s3: put object %s: %w", path, err)
	}
	return path, nil
}

// capturePath builds the S3 key for one flushed batch, partitioned by day
// so an implementer can browse a session's captures chronologically.
//
//	capture/2026-07-31/20260731T120000Z.jsonl
func capturePath(flushedAt time.Time) string {
	return fmt.Sprintf("capture/%s/%s.jsonl", flushedAt.Format("2006-01-02"), flushedAt.Format("20060102T150405Z"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
