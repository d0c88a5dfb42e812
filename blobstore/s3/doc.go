// Package s3 provides an Amazon S3 implementation of the blobstore.Store
// interface for archiving savestates.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket", func(o *s3.Options) {
//	    o.Prefix = "savestates/"
//	    o.Region = "us-east-1"
//	})
//
//	archiver, err := snapshot.NewArchiver(store)
//
// # Features
//
//   - Range reads so a restore is one long GET, not one per page
//   - Multipart uploads with CRC32C checksums for large savestates
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//
// ExpressStore targets S3 Express One Zone directory buckets and adds
// conditional create-once writes (PutIfNotExists).
package s3
