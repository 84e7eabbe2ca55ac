// Package config provides the configuration of a conversion run.
//
// A run is described by a single Config: where the raw extracts live, where
// the Parquet artifacts go, how they are compressed, which cleaning policy
// applies and which record types are converted, in order.
//
// # Loading
//
//	cfg, err := config.Load("clinicaletl.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Load starts from Default, overlays the YAML file and then the environment.
// Every key can be overridden with a CLINICALETL_ variable, nested keys
// joined with an underscore:
//
//	CLINICALETL_POLICY=strict-drop
//	CLINICALETL_LOG_LEVEL=debug
//
// ${VAR_NAME} references inside the file are replaced before parsing:
//
//	source_dir: ${MIMIC_HOME}/csv
//
// # Jobs
//
// Jobs expands a validated Config into one Job per record type. Each Job
// names its source file and one Output per destination; destinations never
// share a path, so a failed write for one cannot disturb another.
//
//	destinations:
//	  - name: analytics
//	    path: modern
//	  - name: legacy-warehouse
//	    path: compat
//	    compat: true
package config
