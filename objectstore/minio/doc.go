// Package minio provides a MinIO implementation of objectstore.Store for
// self-hosted and S3-compatible object storage.
//
// # Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds: credentials.NewStaticV4(accessKey, secretKey, ""),
//	})
//	store := miniostore.NewStore(client, "indices", "builds/")
package minio
