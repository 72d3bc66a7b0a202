// Package cachedir resolves ivarator cache locations.
//
// A cache base is a URI. Supported schemes:
//
//	file:///var/cache/fieldq        local disk (also plain paths)
//	mem://name/prefix               process-local in-memory store, by name
//	s3://bucket/prefix              Amazon S3, default AWS config chain
//	minio://endpoint/bucket/prefix  MinIO or another S3-compatible server
//
// Each ivarator writes below <base>/<queryID>/<field>-<crc32c(term)>. The
// directory is created on the first overflow build; its removal belongs to
// query-scoped cleanup, which can call Location.Remove.
package cachedir
