// Package s3 provides an Amazon S3 implementation of objectstore.Store.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("indices/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
// # Features
//
//   - Range reads for efficient partial fetches
//   - Streaming multipart uploads for large artifacts
//   - CRC32C integrity validation
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
