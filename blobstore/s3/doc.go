// Package s3 provides Amazon S3 implementations of blobstore.BlobStore.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "matchers/products/")
//
//	err = matcher.Save(ctx, store)
//
// Store uses S3 for everything. DDBCommitStore keeps snapshot blobs in S3 but
// resolves the CURRENT pointer through DynamoDB conditional writes, so several
// writers can publish snapshots without overwriting each other.
//
// # Features
//
//   - Range reads for partial fetches
//   - Multipart uploads for large snapshots
//   - CRC32C integrity checks on upload
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
