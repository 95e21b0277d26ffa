package artifact

import "fmt"

// Schema definitions for the artifact store.
// The content column type differs per driver; everything else is shared.

const schemaArtifacts = `
CREATE TABLE IF NOT EXISTS artifacts (
    name TEXT PRIMARY KEY,
    content %s NOT NULL,
    checksum TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_updated ON artifacts(updated_at);
`

// AllSchemas returns all schema statements for driver in order.
func AllSchemas(driver string) []string {
	blob := "BLOB"
	if driver == "postgres" {
		blob = "BYTEA"
	}
	return []string{
		fmt.Sprintf(schemaArtifacts, blob),
	}
}
