package graph

// SQLite schema DDL constants

const schemaDocuments = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    revision TEXT NOT NULL,
    fields TEXT NOT NULL,
    created_at TEXT NOT NULL,
    modified_at TEXT NOT NULL
)`

// refs holds one row per reference value; rebuilt whenever the source document is written.
// Targets are not foreign keys: dangling references must stay representable.
const schemaRefs = `
CREATE TABLE IF NOT EXISTS refs (
    source_id TEXT NOT NULL,
    source_type TEXT NOT NULL,
    path TEXT NOT NULL,
    target_id TEXT NOT NULL,
    PRIMARY KEY (source_id, path)
)`

// Index definitions
const indexDocumentsType = `CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(type)`
const indexRefsTarget = `CREATE INDEX IF NOT EXISTS idx_refs_target ON refs(target_id)`
const indexRefsSource = `CREATE INDEX IF NOT EXISTS idx_refs_source ON refs(source_id)`

// SQLite pragmas
const pragmaWAL = `PRAGMA journal_mode=WAL`
const pragmaBusyTimeout = `PRAGMA busy_timeout=5000`
const pragmaSynchronous = `PRAGMA synchronous=NORMAL`

// allSchemaStatements returns all schema DDL in order
func allSchemaStatements() []string {
	return []string{
		schemaDocuments,
		schemaRefs,
		indexDocumentsType,
		indexRefsTarget,
		indexRefsSource,
	}
}

// allPragmas returns all pragma statements
func allPragmas() []string {
	return []string{
		pragmaWAL,
		pragmaBusyTimeout,
		pragmaSynchronous,
	}
}
