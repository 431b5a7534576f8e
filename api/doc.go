// Package api holds the HTTP contract of the audit service and the types
// generated from it.
package api

//go:generate go run github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen -generate types -package api -o types.gen.go openapi.yaml
