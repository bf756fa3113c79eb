package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/evergreen-ci/pail"
	"github.com/evergreen-ci/regime"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// ExportType describes the blob storage backing a report export bucket.
type ExportType string

const (
	ExportS3    ExportType = "s3"
	ExportLocal ExportType = "local"

	defaultS3Region = "us-east-1"
)

func (t ExportType) Validate() error {
	switch t {
	case ExportS3, ExportLocal:
		return nil
	default:
		return errors.Errorf("unknown export type '%s'", t)
	}
}

// CreateExportBucket returns the bucket described by the configuration.
func CreateExportBucket(ctx context.Context, conf regime.ExportConfig) (pail.Bucket, error) {
	if conf.Bucket == "" {
		return nil, errors.New("no export bucket configured")
	}
	return ExportType(conf.Type).Create(ctx, conf.Bucket, conf.Prefix, conf.Region)
}

// Create returns a pail Bucket backed by the ExportType.
func (t ExportType) Create(ctx context.Context, bucket, prefix, region string) (pail.Bucket, error) {
	var b pail.Bucket
	var err error

	switch t {
	case ExportS3:
		if region == "" {
			region = defaultS3Region
		}
		b, err = pail.NewS3Bucket(ctx, pail.S3Options{
			Name:        bucket,
			Prefix:      prefix,
			Region:      region,
			Permissions: pail.S3PermissionsPrivate,
		})
		if err != nil {
			return nil, errors.WithStack(err)
		}
	case ExportLocal:
		if err = os.MkdirAll(bucket, 0755); err != nil {
			return nil, errors.Wrapf(err, "problem creating export directory '%s'", bucket)
		}
		b, err = pail.NewLocalBucket(pail.LocalOptions{
			Path:   bucket,
			Prefix: prefix,
		})
		if err != nil {
			return nil, errors.WithStack(err)
		}
	default:
		return nil, t.Validate()
	}

	if err = b.Check(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

// ExportKey is the key a report is exported under.
func ExportKey(r *ChangePointReport) string { return fmt.Sprintf("%s.json", r.ID) }

// ExportReport writes the report as JSON to the bucket and returns the key.
func ExportReport(ctx context.Context, bucket pail.Bucket, r *ChangePointReport) (string, error) {
	if r == nil || r.IsNil() {
		return "", errors.New("cannot export an unpopulated report")
	}

	data, err := json.MarshalIndent(r, "", "   ")
	if err != nil {
		return "", errors.Wrap(err, "problem encoding report")
	}

	key := ExportKey(r)
	if err = bucket.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return "", errors.Wrapf(err, "problem exporting report '%s'", r.ID)
	}

	grip.Debug(message.Fields{
		"message": "exported change point report",
		"id":      r.ID,
		"series":  r.Series,
		"key":     key,
	})

	return key, nil
}
