// Package model holds the records the ingestion and targeting engine reads and writes.
//
// The types are plain structs; persistence lives in internal/storage and the
// rules that mutate them live in the fetcher, refresh and broadcast packages.
package model
