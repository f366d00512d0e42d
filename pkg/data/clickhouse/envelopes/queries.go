package envelopes

// envelopeColumns is the column list for the envelopes table (10 columns)
const envelopeColumns = `id, topic, base_path, entity_id, subject, source_id,
		enclosed_at, received_at, latency_ns, payload`

// CreateTableQuery returns the CREATE TABLE query for the envelopes table. Rows are
// ordered by key and enclosure time so per-entity scans and deletes stay local.
func CreateTableQuery(tableName string) string {
	return `CREATE TABLE IF NOT EXISTS ` + tableName + ` (
		id UUID,
		topic String,
		base_path LowCardinality(String),
		entity_id String,
		subject LowCardinality(String),
		source_id String,
		enclosed_at DateTime64(9, 'UTC'),
		received_at DateTime64(9, 'UTC'),
		latency_ns Int64,
		payload String CODEC(ZSTD(3))
	)
	ENGINE = MergeTree
	PARTITION BY toYYYYMM(enclosed_at)
	ORDER BY (base_path, entity_id, subject, source_id, enclosed_at)`
}

// InsertQueryForBatch returns the INSERT query without VALUES clause (for PrepareBatch)
func InsertQueryForBatch(tableName string) string {
	return `INSERT INTO ` + tableName + ` (` + envelopeColumns + `)`
}

// InsertQuery returns the INSERT query with a VALUES clause for 10 parameters
func InsertQuery(tableName string) string {
	return InsertQueryForBatch(tableName) + ` VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
}

// DeleteByEntityQuery returns the mutation removing every row of one entity.
func DeleteByEntityQuery(tableName string) string {
	return `ALTER TABLE ` + tableName + ` DELETE WHERE entity_id = ?`
}
