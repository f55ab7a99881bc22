package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across boats, service_records, and
// messages using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultBoat {
		boatWhere := "b.fts @@ " + tsQuery
		if q.CustomerID != "" {
			boatWhere += fmt.Sprintf(" AND b.customer_id = $%d", argN)
			args = append(args, q.CustomerID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'boat'::text AS type, b.id, b.name AS title,
				ts_headline('english', coalesce(b.make || ' ' || b.model, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				b.id AS boat_id, b.customer_id,
				ts_rank(b.fts, %s) AS rank
			FROM boats b
			WHERE %s`, tsQuery, tsQuery, boatWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultService {
		svcWhere := "sr.fts @@ " + tsQuery
		if q.CustomerID != "" {
			svcWhere += fmt.Sprintf(" AND b.customer_id = $%d", argN)
			args = append(args, q.CustomerID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'service'::text AS type, sr.id, sr.service_type AS title,
				ts_headline('english', coalesce(sr.notes, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				sr.boat_id, b.customer_id,
				ts_rank(sr.fts, %s) AS rank
			FROM service_records sr
			JOIN boats b ON b.id = sr.boat_id
			WHERE %s`, tsQuery, tsQuery, svcWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultMessage {
		msgWhere := "m.fts @@ " + tsQuery
		if q.CustomerID != "" {
			msgWhere += fmt.Sprintf(" AND m.customer_id = $%d", argN)
			args = append(args, q.CustomerID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'message'::text AS type, m.id, m.author_name AS title,
				ts_headline('english', coalesce(m.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS boat_id, m.customer_id,
				ts_rank(m.fts, %s) AS rank
			FROM messages m
			WHERE %s`, tsQuery, tsQuery, msgWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, boat_id, customer_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.BoatID, &r.CustomerID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]BoatRecord, []ServiceRecordDoc, []MessageRecord, error) {
	boatRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(make, ''), COALESCE(model, ''), COALESCE(slip, ''), customer_id
		FROM boats
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load boats: %w", err)
	}
	defer boatRows.Close()

	boats := make([]BoatRecord, 0)
	for boatRows.Next() {
		var b BoatRecord
		if err := boatRows.Scan(&b.ID, &b.Name, &b.Make, &b.Model, &b.Slip, &b.CustomerID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan boat: %w", err)
		}
		boats = append(boats, b)
	}
	if err := boatRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate boats: %w", err)
	}

	svcRows, err := p.db.QueryContext(ctx, `
		SELECT sr.id, sr.service_type, COALESCE(sr.notes, ''), COALESCE(sr.technician, ''), sr.boat_id, b.customer_id
		FROM service_records sr
		JOIN boats b ON b.id = sr.boat_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load service records: %w", err)
	}
	defer svcRows.Close()

	records := make([]ServiceRecordDoc, 0)
	for svcRows.Next() {
		var s ServiceRecordDoc
		if err := svcRows.Scan(&s.ID, &s.ServiceType, &s.Notes, &s.Technician, &s.BoatID, &s.CustomerID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan service record: %w", err)
		}
		records = append(records, s)
	}
	if err := svcRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate service records: %w", err)
	}

	msgRows, err := p.db.QueryContext(ctx, `
		SELECT id, body, author_name, customer_id
		FROM messages
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load messages: %w", err)
	}
	defer msgRows.Close()

	messages := make([]MessageRecord, 0)
	for msgRows.Next() {
		var m MessageRecord
		if err := msgRows.Scan(&m.ID, &m.Body, &m.AuthorName, &m.CustomerID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate messages: %w", err)
	}

	return boats, records, messages, nil
}
