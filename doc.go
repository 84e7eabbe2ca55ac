// Package clinicaletl cleans raw clinical research extracts and converts them
// to Parquet for analytic querying.
//
// Five record types are supported, each with a declared schema: patients,
// admissions, ICU stays, lab events and the lab item dictionary. Nothing is
// inferred from the data. A column is an identifier, a timestamp, a decimal
// or text because its schema says so.
//
// # Architecture
//
// A run is a sequence of jobs, one per record type:
//
//  1. Ingest (pkg/ingest): read the CSV, plain or compressed
//     (pkg/compression), in bounded chunks, falling back to a lenient full
//     read on malformed input; trim cells, map null markers, drop fully-null
//     and duplicate rows.
//  2. Clean (pkg/cleaner): parse timestamps through a fallback chain, coerce
//     identifiers to the narrowest fixed-width integer and apply the strict
//     or lenient policy to rows missing required fields.
//  3. Write (pkg/columnar): publish one Parquet artifact per destination,
//     atomically, in the modern or the legacy INT96 timestamp layout.
//
// A failed file is logged and reported; the other files are still
// converted. internal/pipeline runs the jobs and cmd/clinicaletl is the CLI.
// Each run can publish a JSON report and a Prometheus textfile.
//
// # Quick Start
//
//	clinicaletl config init clinicaletl.yaml
//	clinicaletl run --config clinicaletl.yaml --policy strict-drop
//	clinicaletl avg-age data/parquet/patients.parquet
//
// # Average age
//
// pkg/agestat computes the average patient age with a map stage per table
// partition and a reduce stage over the partial sums.
package clinicaletl
