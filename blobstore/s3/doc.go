// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("graphs/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	info, err := st.Backup(ctx, store, "graph-2026-10-15", segmap.WithCommit())
//
// With several hosts publishing backups, wrap the store in a DDBCommitStore
// so that updates of the CURRENT pointer are conditional writes in DynamoDB.
//
// # Features
//
//   - Range reads for efficient partial fetches
//   - Multipart uploads with CRC32C checksums for large backups
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
