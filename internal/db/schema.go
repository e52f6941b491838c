package db

// SchemaSQL defines the key-value table backing the file path registry,
// usage counters and sessions. Records hold either a JSON payload in
// value (Set) or a float in number (Add), plus an optional expires_at.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS kv SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS updated ON kv TYPE datetime VALUE time::now();
    DEFINE INDEX IF NOT EXISTS kv_expires_at ON kv FIELDS expires_at;
`
